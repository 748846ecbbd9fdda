package domain

import "errors"

// Error taxonomy shared by all core components. Callers discriminate with
// errors.Is; wrapped causes carry the upstream detail.
var (
	// ErrNotFound indicates an unknown symbol, distinct from an initialized
	// but empty document.
	ErrNotFound = errors.New("symbol not found")

	// ErrInvalidBias rejects any bias value outside LONG/SHORT.
	ErrInvalidBias = errors.New("invalid bias: must be LONG or SHORT")

	// ErrCollectionFailed covers upstream fetch, timeout and parse errors
	// during snapshot collection. The sample log is left untouched.
	ErrCollectionFailed = errors.New("collection failed")

	// ErrOutOfRange rejects scheduler parameter values outside their bounds.
	ErrOutOfRange = errors.New("value out of range")

	// ErrStorageCorrupt indicates a persisted document that failed to parse.
	// Fatal for that document only, never for the process.
	ErrStorageCorrupt = errors.New("storage corrupt")
)
