// Package progress carries batch progress events from the coordinator to
// whoever is watching a session.
package progress

import "context"

// Kind is the type of a progress event.
type Kind int

const (
	Started Kind = iota
	FileProgress
	Zipping
	Completed
	Failed
)

func (k Kind) String() string {
	switch k {
	case Started:
		return "started"
	case FileProgress:
		return "file_progress"
	case Zipping:
		return "zipping"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a batch session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConverting Status = "converting"
	StatusZipping    Status = "zipping"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Event is one progress notification for a session.
type Event struct {
	Kind      Kind   `json:"kind"`
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Filename  string `json:"filename,omitempty"`
	Percent   int    `json:"percent"`
	Status    Status `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// Terminal reports whether e ends its session's stream.
func (e Event) Terminal() bool {
	return e.Kind == Completed || e.Kind == Failed
}

// Broker fans events out to session subscribers. Publish never blocks the
// caller; a slow subscriber loses events rather than stalling a batch.
// After a terminal event every subscription of that session is closed.
type Broker interface {
	Publish(e Event)
	Subscribe(ctx context.Context, sessionID string) (*Subscription, error)
	Close() error
}

// Subscription delivers the events of one session until C is closed.
type Subscription struct {
	C       <-chan Event
	closeFn func()
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}
