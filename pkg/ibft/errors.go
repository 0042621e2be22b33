package ibft

import "errors"

// Fail modes named by spec.md §4.5. Fatal errors propagate to the
// orchestrator; all are recorded to the audit log by the caller.
var (
	ErrInvalidProposer        = errors.New("ibft: pre-prepare from non-leader")
	ErrStaleRound             = errors.New("ibft: message round is behind the local round")
	ErrProposalRejected       = errors.New("ibft: proposed header failed validation")
	ErrPrepareThresholdMissed = errors.New("ibft: insufficient prepare votes")
	ErrCommitThresholdMissed  = errors.New("ibft: insufficient commit votes")
	ErrViewChange             = errors.New("ibft: round timed out, view change in progress")
	ErrEquivocationDetected   = errors.New("ibft: validator signed conflicting messages for the same slot")
)
