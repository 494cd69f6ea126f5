package coordinator

import (
	"fmt"
	"time"
)

// State is a coordinator's position in its lifecycle.
type State int

const (
	// StateUnstarted means no fetch has succeeded yet.
	StateUnstarted State = iota
	// StateHealthy means the last fetch succeeded.
	StateHealthy
	// StateDegraded means the last fetch failed recoverably. The previous
	// snapshot is kept.
	StateDegraded
	// StateFailed is terminal. Polling has stopped.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Info is a point-in-time summary of a coordinator.
type Info struct {
	Name        string        `json:"name"`
	State       State         `json:"state"`
	Interval    time.Duration `json:"interval"`
	HasData     bool          `json:"has_data"`
	LastUpdate  time.Time     `json:"last_update,omitzero"`
	LastAttempt time.Time     `json:"last_attempt,omitzero"`
	Failures    int           `json:"consecutive_failures"`
	LastError   string        `json:"last_error,omitempty"`
}

// Available reports whether projections should present the data: there is
// a snapshot and the coordinator has not failed.
func (i Info) Available() bool {
	return i.HasData && i.State != StateFailed
}

// Update is delivered to listeners after every completed fetch. On failure
// Err is set and Data still holds the previous snapshot, if any.
type Update[T any] struct {
	Name    string
	Data    T
	HasData bool
	State   State
	Err     error
}

// Listener receives updates. Listeners run on the fetch path, in
// registration order, and must not call Refresh or Stop on the same
// coordinator.
type Listener[T any] func(Update[T])

// snapshot is the coordinator's whole mutable state. It is never modified
// after being published; each fetch publishes a new one.
type snapshot[T any] struct {
	data        T
	hasData     bool
	state       State
	lastUpdate  time.Time
	lastAttempt time.Time
	failures    int
	err         error
}
