package mempool

import "errors"

// Failure kinds surfaced by the mempool, matching the AuctionMempool
// and windowed-sealing contract.
var (
	ErrWindowNotFound      = errors.New("mempool: auction window not found")
	ErrWindowSealed        = errors.New("mempool: auction window already sealed")
	ErrEmptyTxID           = errors.New("mempool: transaction id must not be zero")
	ErrInvalidSubmitterSig = errors.New("mempool: submitter signature does not verify")
)
