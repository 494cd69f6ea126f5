package entry

import "errors"

var (
	// ErrInvalidCredential indicates the credential is incomplete.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrProfileNotFound indicates the API key has no access to the profile.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrUnknownKind is returned by Get for kinds the entry does not poll.
	ErrUnknownKind = errors.New("unknown resource kind")

	// ErrTornDown is returned by Get after Teardown.
	ErrTornDown = errors.New("entry torn down")

	// ErrKindMismatch is returned by Lookup when the requested snapshot type
	// does not match the kind.
	ErrKindMismatch = errors.New("resource kind has a different snapshot type")
)

// IsConfigError returns true for errors that retrying setup cannot fix.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidCredential) || errors.Is(err, ErrProfileNotFound)
}
