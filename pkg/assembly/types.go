package assembly

import (
	"github.com/metanode/chaincore/pkg/crypto/hashing"
	"github.com/metanode/chaincore/pkg/mempool"
)

// Receipt is an application-layer record of one executed operation
// (action, execution, transact, ...); the core treats OpType and Data
// as opaque and only needs a stable hash for the receipts root.
type Receipt struct {
	Sequence uint64
	OpType   string
	Data     []byte
}

// receiptHashInput mirrors Receipt for canonical encoding: a plain
// []byte field rather than any hashing.Hash avoids nesting one
// domain-separated type inside another's hash input.
type receiptHashInput struct {
	Sequence uint64
	OpType   string
	Data     []byte
}

// Hash computes H(RECEIPT, canonical_cbor(receipt)).
func (r Receipt) Hash() (hashing.Hash, error) {
	return hashing.HashValue(hashing.AlgoBlake3, hashing.DomainReceipt, receiptHashInput{
		Sequence: r.Sequence,
		OpType:   r.OpType,
		Data:     r.Data,
	})
}

// PohRange names the inclusive tick range this block's transactions
// were ordered against; poh_root is computed externally by pkg/poh
// over this same range.
type PohRange struct {
	Start uint64
	End   uint64
}

// BlockBody bundles everything a proposed header's roots are computed
// over, other than the header itself. AuctionResult is optional: a
// proposer includes a sealed window's winners at its own discretion,
// and an omitted result simply stays eligible for a later block.
type BlockBody struct {
	PohRange     PohRange
	Receipts     []Receipt
	AuctionResult *mempool.AuctionResult
	XcmpMessages [][]byte
}

// Roots are the three body-derived digests a header must carry.
type Roots struct {
	ReceiptsRoot hashing.Hash
	DaRoot       hashing.Hash
	XcmpRoot     hashing.Hash
}
