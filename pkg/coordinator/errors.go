package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is matched by every error returned from FirstRefresh.
	ErrNotReady = errors.New("not ready")

	// ErrFailed is returned by Refresh once the coordinator reached the
	// terminal failed state.
	ErrFailed = errors.New("coordinator failed")

	// ErrStopped is returned by Refresh after Stop, and for fetches whose
	// result arrived after Stop.
	ErrStopped = errors.New("coordinator stopped")
)

// NotReadyError reports a failed first refresh. It matches both ErrNotReady
// and the underlying fetch error.
type NotReadyError struct {
	Name string
	Err  error
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Name, ErrNotReady, e.Err)
}

// Unwrap returns ErrNotReady and the cause.
func (e *NotReadyError) Unwrap() []error {
	return []error{ErrNotReady, e.Err}
}

// IsNotReady returns true if err reports a failed first refresh.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}
