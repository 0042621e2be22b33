package header

import "errors"

var (
	// ErrBadHeader is returned when a header fails structural or
	// genesis-shape validation.
	ErrBadHeader = errors.New("header: invalid header")
	// ErrChainBreak is returned when a header does not continue its
	// claimed parent: height, prev_hash, or block-timing mismatch.
	ErrChainBreak = errors.New("header: chain continuity broken")
)
