package assembly

import "errors"

var (
	// ErrRootMismatch is returned by VerifyBody when a recomputed root
	// disagrees with the one carried by the proposed header.
	ErrRootMismatch = errors.New("assembly: body root does not match header")
)
