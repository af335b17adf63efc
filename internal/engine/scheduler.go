package engine

import (
	"context"
	"sync"
	"time"

	"github.com/djkazic/stratum-engine/internal/miner"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Per-protocol idle deadlines (spec.md §4.10).
const (
	StratumDeadline  = 120 * time.Second
	P2PPingDeadline  = 90 * time.Second
	P2PPongDeadline  = 20 * time.Second
	ExchangeDeadline = 30 * time.Second
)

// sessionSlot is one slab entry. Slots are referenced by index, never by
// pointer held outside the slab, so slab growth never invalidates a
// reference (spec.md §9 "Cyclic references"/"Pointer graphs").
type sessionSlot struct {
	id       string
	kind     string // "stratum" | "btcp2p" | "exchange"
	deadline time.Time
	cancel   context.CancelFunc
}

// Scheduler is the engine's orchestrator: it owns the session slab,
// fans in lifecycle/job/share events from per-session goroutines, and
// supervises them with an errgroup so a single session's fatal error
// surfaces without being silently swallowed.
type Scheduler struct {
	logger *zap.Logger

	mu    sync.Mutex
	slab  []*sessionSlot
	free  []int
	index map[string]int

	events chan Event

	// jobUpdate is a latest-wins, capacity-1 channel: a send that would
	// block first drains the stale pending value.
	jobUpdate chan *miner.Job

	shareSubmit chan *miner.Share

	getdataLimiter    *rate.Limiter
	submitPaceLimiter *rate.Limiter

	group *errgroup.Group
	ctx   context.Context
}

// NewScheduler builds a Scheduler bound to ctx; cancelling ctx stops all
// supervised goroutines.
func NewScheduler(ctx context.Context, logger *zap.Logger) *Scheduler {
	group, gctx := errgroup.WithContext(ctx)
	return &Scheduler{
		logger:            logger,
		index:             make(map[string]int),
		events:            make(chan Event, 1024),
		jobUpdate:         make(chan *miner.Job, 1),
		shareSubmit:       make(chan *miner.Share, 1024),
		getdataLimiter:    rate.NewLimiter(10, 20),
		submitPaceLimiter: rate.NewLimiter(5, 10),
		group:             group,
		ctx:               gctx,
	}
}

// Register adds a new session slot under the caller-supplied id and
// returns a per-session context (derived from the scheduler's) and its
// cancel func. kind is one of "stratum", "btcp2p", "exchange".
func (s *Scheduler) Register(id, kind string, deadline time.Duration) (context.Context, context.CancelFunc) {
	sessCtx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	slot := &sessionSlot{id: id, kind: kind, deadline: time.Now().Add(deadline), cancel: cancel}
	idx := s.allocSlot()
	s.slab[idx] = slot
	s.index[id] = idx
	s.mu.Unlock()

	s.emit(Event{Kind: EventSessionConnected, SessionID: id})
	return sessCtx, cancel
}

func (s *Scheduler) allocSlot() int {
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		return idx
	}
	s.slab = append(s.slab, nil)
	return len(s.slab) - 1
}

// Unregister removes a session slot, freeing it for reuse.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	idx, ok := s.index[id]
	if ok {
		s.slab[idx] = nil
		s.free = append(s.free, idx)
		delete(s.index, id)
	}
	s.mu.Unlock()

	if ok {
		s.emit(Event{Kind: EventSessionClosed, SessionID: id})
	}
}

// Touch refreshes a session's idle deadline, e.g. on any received
// message.
func (s *Scheduler) Touch(id string, deadline time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[id]
	if !ok {
		return
	}
	s.slab[idx].deadline = time.Now().Add(deadline)
}

// ExpiredSessions returns the ids of sessions whose deadline has passed,
// as of now.
func (s *Scheduler) ExpiredSessions(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for _, slot := range s.slab {
		if slot != nil && now.After(slot.deadline) {
			expired = append(expired, slot.id)
		}
	}
	return expired
}

// Go supervises fn via the scheduler's errgroup: a fatal error from any
// supervised goroutine cancels the shared context and is eventually
// returned by Wait.
func (s *Scheduler) Go(fn func(ctx context.Context) error) {
	s.group.Go(func() error {
		return fn(s.ctx)
	})
}

// Wait blocks until all supervised goroutines exit, returning the first
// non-nil error (if any), matching errgroup's fail-fast propagation —
// the idiomatic upgrade of the teacher's sync.WaitGroup usage in the
// reference pack's cpuminer.go worker pool, which has no first-error
// signal at all.
func (s *Scheduler) Wait() error {
	return s.group.Wait()
}

// PublishJob pushes a new job onto the latest-wins job update channel,
// dropping any stale pending job.
func (s *Scheduler) PublishJob(j *miner.Job) {
	for {
		select {
		case s.jobUpdate <- j:
			return
		default:
			select {
			case <-s.jobUpdate:
			default:
			}
		}
	}
}

// JobUpdates returns the channel carrying the latest published job.
func (s *Scheduler) JobUpdates() <-chan *miner.Job {
	return s.jobUpdate
}

// SubmitShare enqueues a found share for submission. Returns false if
// the bounded queue is full (spec.md §4.10: backpressure, not blocking).
func (s *Scheduler) SubmitShare(sh *miner.Share) bool {
	select {
	case s.shareSubmit <- sh:
		return true
	default:
		return false
	}
}

// Shares returns the channel of shares awaiting submission.
func (s *Scheduler) Shares() <-chan *miner.Share {
	return s.shareSubmit
}

// WaitGetdataToken blocks until the P2P getdata pacing limiter admits
// one batch, grounded on the teacher's internal/p2p/pubsub.go
// per-peer rate.Limiter idiom.
func (s *Scheduler) WaitGetdataToken(ctx context.Context) error {
	return s.getdataLimiter.Wait(ctx)
}

// WaitSubmitToken blocks until the exchange submission pacing limiter
// admits one more order submission.
func (s *Scheduler) WaitSubmitToken(ctx context.Context) error {
	return s.submitPaceLimiter.Wait(ctx)
}

// Events returns the fan-in event channel.
func (s *Scheduler) Events() <-chan Event {
	return s.events
}

func (s *Scheduler) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event channel full, dropping event", zap.Int("kind", int(ev.Kind)))
	}
}

// Emit publishes an arbitrary event (used by session goroutines to
// report share finds, submit results, and errors back to the
// orchestrator).
func (s *Scheduler) Emit(ev Event) {
	s.emit(ev)
}
