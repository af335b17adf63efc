// Package exchange implements the Exchange Session (spec.md §4.4/§4.7):
// a WebSocket+JSON session with tagged message dispatch and a bounded
// correlation table for outstanding order submissions, built on top of
// internal/wsproto.
package exchange

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/djkazic/stratum-engine/internal/framer"
	"github.com/djkazic/stratum-engine/internal/wsproto"
	"go.uber.org/zap"
)

// State is the Exchange Session lifecycle.
type State int

const (
	StateHandshaking State = iota
	StateOpen
	StateCloseReceived
	StateCloseSent
	StateClosed
)

// MaxInFlight bounds the correlation table (spec.md §4.7: "4096
// in-flight").
const MaxInFlight = 4096

// ErrBusy is returned by Submit when the correlation table is full.
var ErrBusy = fmt.Errorf("exchange: correlation table full")

// MessageKind tags a dispatched inbound message by its wire "type" field.
type MessageKind string

const (
	KindTrade       MessageKind = "trade"
	KindBookUpdate  MessageKind = "book_update"
	KindOrderAck    MessageKind = "order_ack"
	KindOrderReject MessageKind = "order_reject"
	KindHeartbeat   MessageKind = "heartbeat"
	KindError       MessageKind = "error"
)

// envelope is the common wire shape every inbound message carries: a
// type tag and, for order acks/rejects, a ticket correlating it to a
// prior Submit call.
type envelope struct {
	Type   MessageKind     `json:"type"`
	Ticket uint64          `json:"ticket,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// Dispatched is one routed inbound message handed to the caller's
// handler.
type Dispatched struct {
	Kind MessageKind
	Data json.RawMessage
}

// Session manages one Exchange connection: subscription bookkeeping,
// order submission tickets, and tagged dispatch.
type Session struct {
	conn   *wsproto.Conn
	logger *zap.Logger

	mu    sync.Mutex
	state State

	nextTicket uint64
	pending    map[uint64]chan Dispatched

	subscriptions map[string]struct{}
}

// NewSession wraps an already-handshaken wsproto.Conn.
func NewSession(conn *wsproto.Conn, logger *zap.Logger) *Session {
	return &Session{
		conn:          conn,
		logger:        logger,
		state:         StateOpen,
		pending:       make(map[uint64]chan Dispatched),
		subscriptions: make(map[string]struct{}),
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe adds channel to the session's subscription set and sends a
// subscribe control message.
func (s *Session) Subscribe(channel string) error {
	s.mu.Lock()
	s.subscriptions[channel] = struct{}{}
	s.mu.Unlock()

	payload, _ := json.Marshal(map[string]string{"type": "subscribe", "channel": channel})
	return s.conn.WriteText(payload)
}

// Submit sends order_bytes as an order submission and returns a ticket
// correlating the eventual ack/reject. Returns ErrBusy if the
// correlation table is at MaxInFlight.
func (s *Session) Submit(orderBytes json.RawMessage) (ticket uint64, result <-chan Dispatched, err error) {
	s.mu.Lock()
	if len(s.pending) >= MaxInFlight {
		s.mu.Unlock()
		return 0, nil, ErrBusy
	}
	ticket = atomic.AddUint64(&s.nextTicket, 1)
	ch := make(chan Dispatched, 1)
	s.pending[ticket] = ch
	s.mu.Unlock()

	payload, _ := json.Marshal(map[string]interface{}{
		"type":   "submit_order",
		"ticket": ticket,
		"order":  orderBytes,
	})
	if err := s.conn.WriteText(payload); err != nil {
		s.mu.Lock()
		delete(s.pending, ticket)
		s.mu.Unlock()
		return 0, nil, fmt.Errorf("exchange: submit: %w", err)
	}
	return ticket, ch, nil
}

// ReadLoop reads and dispatches messages until the connection closes.
// onUnsolicited is called for Trade/BookUpdate/Heartbeat/Error messages
// that carry no ticket (i.e. aren't correlated to a prior Submit).
func (s *Session) ReadLoop(onUnsolicited func(Dispatched)) error {
	for {
		msg, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		if msg.Opcode == framer.WSOpClose {
			s.mu.Lock()
			s.state = StateCloseReceived
			s.mu.Unlock()
			// spec.md §3/§4.4: a received Close must be echoed before the
			// channel is torn down.
			if err := s.conn.WriteClose(nil); err != nil {
				return err
			}
			s.mu.Lock()
			s.state = StateClosed
			s.mu.Unlock()
			return nil
		}

		var env envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			s.logger.Warn("malformed exchange message", zap.Error(err))
			continue
		}

		d := Dispatched{Kind: env.Type, Data: env.Data}

		if env.Type == KindOrderAck || env.Type == KindOrderReject {
			s.mu.Lock()
			ch, found := s.pending[env.Ticket]
			if found {
				delete(s.pending, env.Ticket)
			}
			s.mu.Unlock()
			if found {
				ch <- d
				continue
			}
		}

		if onUnsolicited != nil {
			onUnsolicited(d)
		}
	}
}

// Close initiates the closing handshake by sending a Close frame. It is a
// no-op once a Close has been sent, including when ReadLoop already
// echoed a peer's Close (state Closed), so a second call writes nothing.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateCloseSent || s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateCloseSent
	s.mu.Unlock()
	return s.conn.WriteClose(nil)
}

func (k MessageKind) String() string { return string(k) }
