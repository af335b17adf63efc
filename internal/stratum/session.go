package stratum

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionState is the Stratum session lifecycle (spec.md §4.5).
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateHandshaking
	StateAuthorizing
	StateReady
	StateDraining
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateAuthorizing:
		return "authorizing"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// lowDifficultyShareErrorCode is Stratum's "low difficulty share"
// rejection code used by share.error_code == 23 bookkeeping (spec.md
// §4.5).
const lowDifficultyShareErrorCode = 23

// staleShareReconnectWindow and staleShareReconnectThreshold implement
// spec.md §4.5's "3 consecutive submission failures within 5s forces a
// reconnect" rule.
const (
	staleShareReconnectWindow    = 5 * time.Second
	staleShareReconnectThreshold = 3
)

// pendingCall tracks an in-flight request awaiting its correlated
// response.
type pendingCall struct {
	method string
	result chan *Response
}

// Session drives one Stratum v1 client connection: subscribe, authorize,
// job tracking, share submission, and id correlation.
type Session struct {
	codec  *Codec
	logger *zap.Logger

	mu             sync.Mutex
	state          SessionState
	nextID         int64
	pending        map[int64]*pendingCall
	currentJob     *Job
	extranonce1    string
	extranonce2Sz  int
	shareTarget    float64

	failureTimes []time.Time
}

// NewSession builds a Session over an already-connected codec.
func NewSession(codec *Codec, logger *zap.Logger) *Session {
	return &Session{
		codec:   codec,
		logger:  logger,
		state:   StateDisconnected,
		pending: make(map[int64]*pendingCall),
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Subscribe sends mining.subscribe and waits for its response, storing
// the granted extranonce1/extranonce2 size.
func (s *Session) Subscribe(userAgent string) error {
	s.setState(StateHandshaking)

	params, _ := json.Marshal([]interface{}{userAgent})
	resp, err := s.call("mining.subscribe", params)
	if err != nil {
		return fmt.Errorf("stratum: subscribe: %w", err)
	}

	var result []interface{}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("stratum: subscribe: decode result: %w", err)
	}
	if len(result) < 3 {
		return fmt.Errorf("stratum: subscribe: malformed result")
	}
	extranonce1, _ := result[1].(string)
	extranonce2Size, _ := result[2].(float64)

	s.mu.Lock()
	s.extranonce1 = extranonce1
	s.extranonce2Sz = int(extranonce2Size)
	s.mu.Unlock()
	return nil
}

// Authorize sends mining.authorize and waits for acceptance.
func (s *Session) Authorize(username, password string) error {
	s.setState(StateAuthorizing)

	params, _ := json.Marshal([]interface{}{username, password})
	resp, err := s.call("mining.authorize", params)
	if err != nil {
		return fmt.Errorf("stratum: authorize: %w", err)
	}

	var ok bool
	if err := json.Unmarshal(resp.Result, &ok); err != nil || !ok {
		return fmt.Errorf("stratum: authorize: rejected")
	}

	s.setState(StateReady)
	return nil
}

// Extranonce returns the session's granted extranonce1 and extranonce2
// byte-size.
func (s *Session) Extranonce() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extranonce1, s.extranonce2Sz
}

// CurrentJob returns the most recently received job, or nil.
func (s *Session) CurrentJob() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentJob
}

// ShareTarget returns the share difficulty most recently set by
// mining.set_difficulty (0 until one arrives); callers convert it to a
// target.
func (s *Session) ShareTarget() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shareTarget
}

// HandleNotification dispatches a single decoded Notification line:
// mining.notify updates the current job, mining.set_difficulty updates
// the share target, client.reconnect moves the session to Draining.
func (s *Session) HandleNotification(n *Notification) error {
	var params []interface{}
	if err := json.Unmarshal(n.Params, &params); err != nil {
		return fmt.Errorf("stratum: decode notification params: %w", err)
	}

	switch n.Method {
	case "mining.notify":
		job, err := ParseNotify(params)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.currentJob = job
		s.mu.Unlock()
		s.logger.Debug("new job",
			zap.String("job_id", job.ID),
			zap.Bool("clean_jobs", job.CleanJobs),
		)
	case "mining.set_difficulty":
		if len(params) < 1 {
			return fmt.Errorf("stratum: set_difficulty missing param")
		}
		diff, _ := params[0].(float64)
		s.mu.Lock()
		s.shareTarget = diff
		s.mu.Unlock()
	case "client.reconnect":
		s.setState(StateDraining)
	default:
		s.logger.Debug("unhandled notification", zap.String("method", n.Method))
	}
	return nil
}

// SubmitShare sends mining.submit for a found share and classifies the
// server's acceptance/rejection. A rejection carrying
// lowDifficultyShareErrorCode does not count toward the reconnect
// threshold (spec.md §4.5: it reflects stale work, not a broken link);
// any other rejection, or a transport error, does.
func (s *Session) SubmitShare(username, jobID, extranonce2, ntime, nonce string) (accepted bool, err error) {
	params, _ := json.Marshal([]interface{}{username, jobID, extranonce2, ntime, nonce})
	resp, err := s.call("mining.submit", params)
	if err != nil {
		s.recordFailure()
		return false, err
	}

	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		var errTuple []interface{}
		_ = json.Unmarshal(resp.Error, &errTuple)
		code := 0
		if len(errTuple) > 0 {
			if f, ok := errTuple[0].(float64); ok {
				code = int(f)
			}
		}
		if code != lowDifficultyShareErrorCode {
			s.recordFailure()
		}
		return false, nil
	}

	var ok bool
	_ = json.Unmarshal(resp.Result, &ok)
	if !ok {
		s.recordFailure()
	} else {
		s.mu.Lock()
		s.failureTimes = nil
		s.mu.Unlock()
	}
	return ok, nil
}

// ShouldReconnect reports whether the last staleShareReconnectWindow of
// submission failures has reached staleShareReconnectThreshold.
func (s *Session) ShouldReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-staleShareReconnectWindow)
	n := 0
	for _, t := range s.failureTimes {
		if t.After(cutoff) {
			n++
		}
	}
	return n >= staleShareReconnectThreshold
}

func (s *Session) recordFailure() {
	s.mu.Lock()
	s.failureTimes = append(s.failureTimes, time.Now())
	s.mu.Unlock()
}

// call sends a request and blocks for its correlated response. Response
// routing itself happens in the caller's read loop via Dispatch; call
// only registers the pending entry and waits on it.
func (s *Session) call(method string, params json.RawMessage) (*Response, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	pc := &pendingCall{method: method, result: make(chan *Response, 1)}
	s.pending[id] = pc
	s.mu.Unlock()

	if err := s.codec.SendRequest(&Request{ID: id, Method: method, Params: params}); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-pc.result:
		return resp, nil
	case <-time.After(30 * time.Second):
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("stratum: %s: timed out waiting for response", method)
	}
}

// Dispatch routes one decoded line to either a pending call's waiter (if
// it is a Response) or HandleNotification (if it carries a method).
func (s *Session) Dispatch(raw json.RawMessage) error {
	if IsResponse(raw) {
		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("stratum: decode response: %w", err)
		}
		idFloat, ok := resp.ID.(float64)
		if !ok {
			return fmt.Errorf("stratum: response with non-numeric id")
		}
		id := int64(idFloat)

		s.mu.Lock()
		pc, found := s.pending[id]
		if found {
			delete(s.pending, id)
		}
		s.mu.Unlock()

		if !found {
			s.logger.Warn("response for unknown id", zap.Int64("id", id))
			return nil
		}
		pc.result <- &resp
		return nil
	}

	var notif Notification
	if err := json.Unmarshal(raw, &notif); err != nil {
		return fmt.Errorf("stratum: decode notification: %w", err)
	}
	return s.HandleNotification(&notif)
}

// ReadLoop reads and dispatches lines until the codec errors or ctx-like
// cancellation is signalled externally via Close.
func (s *Session) ReadLoop() error {
	for {
		line, err := s.codec.ReadLine()
		if err != nil {
			return err
		}
		if err := s.Dispatch(line); err != nil {
			s.logger.Warn("dispatch error", zap.Error(err))
		}
	}
}

// Close tears down the session.
func (s *Session) Close() error {
	s.setState(StateClosed)
	return s.codec.Close()
}
