package btcp2p

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionState tracks whether the version/verack handshake has
// completed in each direction.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateVersionSent
	StateHandshakeComplete
	StateClosed
)

// PingInterval and PongTimeout implement spec.md §4.6's liveness policy:
// a ping every 90s, and a connection considered dead if no pong arrives
// within 20s of it.
const (
	PingInterval = 90 * time.Second
	PongTimeout  = 20 * time.Second
)

// ErrPrematureMessage is returned when a non-handshake command arrives
// before verack has been exchanged in both directions (spec.md §8
// scenario 5: "reject before verack").
var ErrPrematureMessage = fmt.Errorf("btcp2p: message received before handshake complete")

// Session gates every non-handshake message behind a completed
// version/verack exchange, in both directions.
type Session struct {
	Magic [4]byte

	mu             sync.Mutex
	state          SessionState
	sentVerack     bool
	receivedVerack bool

	logger *zap.Logger

	lastPingSent time.Time
	awaitingPong bool

	onTx  func(txid [32]byte, raw []byte)
	onInv func(items []InvVector)
}

// NewSession constructs a Session for one peer connection.
func NewSession(magic [4]byte, logger *zap.Logger) *Session {
	return &Session{Magic: magic, logger: logger, state: StateConnecting}
}

// OnTx registers the callback invoked when a "tx" message passes
// handshake gating.
func (s *Session) OnTx(fn func(txid [32]byte, raw []byte)) { s.onTx = fn }

// OnInv registers the callback invoked when an "inv" message passes
// handshake gating.
func (s *Session) OnInv(fn func(items []InvVector)) { s.onInv = fn }

// HandleMessage processes one framed message (command + payload) already
// extracted by internal/framer.ParseBitcoinMessage.
func (s *Session) HandleMessage(command string, payload []byte) error {
	s.mu.Lock()
	handshakeDone := s.state == StateHandshakeComplete
	s.mu.Unlock()

	if !handshakeDone && command != "version" && command != "verack" {
		return ErrPrematureMessage
	}

	switch command {
	case "version":
		return s.handleVersion(payload)
	case "verack":
		return s.handleVerack()
	case "ping":
		return s.handlePing(payload)
	case "pong":
		return s.handlePong(payload)
	case "inv":
		items, err := DecodeInv(payload)
		if err != nil {
			return err
		}
		if s.onInv != nil {
			s.onInv(items)
		}
		return nil
	case "tx":
		txid := Txid(payload)
		if s.onTx != nil {
			s.onTx(txid, payload)
		}
		return nil
	case "reject":
		s.logger.Debug("peer sent reject", zap.Int("payload_len", len(payload)))
		return nil
	default:
		s.logger.Debug("unhandled command", zap.String("command", command))
		return nil
	}
}

func (s *Session) handleVersion(payload []byte) error {
	if _, err := DecodeVersion(payload); err != nil {
		return fmt.Errorf("btcp2p: decode version: %w", err)
	}
	s.mu.Lock()
	s.state = StateVersionSent
	s.mu.Unlock()
	return nil
}

func (s *Session) handleVerack() error {
	s.mu.Lock()
	s.receivedVerack = true
	if s.sentVerack {
		s.state = StateHandshakeComplete
	}
	s.mu.Unlock()
	return nil
}

// MarkVerackSent records that we have sent our own verack. Handshake is
// complete once both sides have sent one.
func (s *Session) MarkVerackSent() {
	s.mu.Lock()
	s.sentVerack = true
	if s.receivedVerack {
		s.state = StateHandshakeComplete
	}
	s.mu.Unlock()
}

func (s *Session) handlePing(payload []byte) error {
	// Pong reply is the caller's responsibility (it owns the write side);
	// this just validates shape.
	if len(payload) != 8 {
		return fmt.Errorf("btcp2p: malformed ping payload")
	}
	return nil
}

func (s *Session) handlePong(payload []byte) error {
	if len(payload) != 8 {
		return fmt.Errorf("btcp2p: malformed pong payload")
	}
	s.mu.Lock()
	s.awaitingPong = false
	s.mu.Unlock()
	return nil
}

// NotePingSent records that we just sent a ping, starting the pong
// timeout window.
func (s *Session) NotePingSent(now time.Time) {
	s.mu.Lock()
	s.lastPingSent = now
	s.awaitingPong = true
	s.mu.Unlock()
}

// TimedOut reports whether a ping was sent more than PongTimeout ago
// without a matching pong.
func (s *Session) TimedOut(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaitingPong && now.Sub(s.lastPingSent) > PongTimeout
}

// State reports the handshake state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
