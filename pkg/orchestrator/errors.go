package orchestrator

import "errors"

var (
	// ErrAlreadyRunning is returned by Start on a node whose background
	// tasks are already active.
	ErrAlreadyRunning = errors.New("orchestrator: node already running")
	// ErrNotRunning is returned by Shutdown on a node that was never
	// started, or has already been shut down.
	ErrNotRunning = errors.New("orchestrator: node not running")
	// ErrNoTransport is returned by NewNode when no Transport is
	// supplied; a node cannot participate in consensus without one.
	ErrNoTransport = errors.New("orchestrator: no transport configured")
)
