package nodestate

import "errors"

var (
	// ErrNotFound is returned when a requested key has never been written.
	ErrNotFound = errors.New("nodestate: key not found")
	// ErrCorrupt is returned when a stored record fails to unmarshal.
	ErrCorrupt = errors.New("nodestate: stored record corrupt")
)
