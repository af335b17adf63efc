package engine

import "github.com/djkazic/stratum-engine/internal/miner"

// EventKind tags the Scheduler's fan-in channel, grounded on the
// teacher's node/events.go enum of NewJobEvent/ShareSubmitEvent/... —
// generalized here from p2pool's share-chain events to this engine's
// session/job/share lifecycle.
type EventKind int

const (
	EventSessionConnected EventKind = iota
	EventSessionClosed
	EventJobUpdate
	EventShareFound
	EventShareSubmitResult
	EventError
)

// Event is one item on the Scheduler's fan-in channel.
type Event struct {
	Kind      EventKind
	SessionID string

	Job       *miner.Job
	Share     *miner.Share
	Accepted  bool
	Err       error
}
