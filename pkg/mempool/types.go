package mempool

import "github.com/metanode/chaincore/pkg/crypto/hashing"

// AuctionType selects the execution mode a winning transaction is
// dispatched under once its window seals.
type AuctionType string

const (
	AuctionStandardExecution AuctionType = "standard"
	AuctionPriorityExecution AuctionType = "priority"
	AuctionCrossChain        AuctionType = "cross_chain"
)

// AuctionTransaction is a bid competing for inclusion in the next
// sealed window. Priority is derived, not stored: see EffectiveBidRate.
type AuctionTransaction struct {
	TxID        hashing.Hash
	ChainID     uint64
	BidAmount   uint64
	GasLimit    uint64
	DataSize    uint32
	Priority    uint16
	Timestamp   uint64
	Nonce       uint64
	Sender      string
	TargetChain *uint64
	AuctionType AuctionType

	// SenderPubKey and Signature authenticate the submitter when set.
	// A transaction synthesized internally (cross-chain relay, tests)
	// may leave both empty; anything arriving from outside the node
	// should carry an Ed25519 signature over SigningPayload().
	SenderPubKey []byte
	Signature    []byte
}

// SigningPayload is the canonical byte sequence an Ed25519 submitter
// signature covers: every field but the signature itself.
func (tx AuctionTransaction) SigningPayload() ([]byte, error) {
	return hashing.CanonicalEncode(struct {
		TxID        hashing.Hash
		ChainID     uint64
		BidAmount   uint64
		GasLimit    uint64
		DataSize    uint32
		Priority    uint16
		Timestamp   uint64
		Nonce       uint64
		Sender      string
		TargetChain *uint64
		AuctionType AuctionType
	}{tx.TxID, tx.ChainID, tx.BidAmount, tx.GasLimit, tx.DataSize, tx.Priority, tx.Timestamp, tx.Nonce, tx.Sender, tx.TargetChain, tx.AuctionType})
}

// EffectiveBidRate is r(t) = bid_amount / (gas_limit * data_size), the
// sole priority signal used for ordering and window admission. Higher
// is better.
func (tx AuctionTransaction) EffectiveBidRate() float64 {
	if tx.GasLimit == 0 || tx.DataSize == 0 {
		return 0
	}
	return float64(tx.BidAmount) / (float64(tx.GasLimit) * float64(tx.DataSize))
}

// AuctionWindow batches pending transactions for one sealed-bid round.
type AuctionWindow struct {
	WindowID  uint64
	StartTime int64
	EndTime   int64
	MaxGas    uint64
	Txs       []AuctionTransaction
	Sealed    bool
}

// AuctionResult is the outcome of sealing a window: the admitted
// winners, the revenue they committed to pay, and a Merkle root over
// their tx_ids for inclusion in a block body.
type AuctionResult struct {
	WindowID     uint64
	Winners      []AuctionTransaction
	TotalRevenue uint64
	MerkleRoot   hashing.Hash
	Timestamp    int64
}

// Stats is a point-in-time snapshot of mempool occupancy, used by the
// orchestrator's status endpoint.
type Stats struct {
	PendingTransactions int
	ActiveWindows       int
	CompletedAuctions   int
	TotalRevenue        uint64
}
