package assembly

import (
	"fmt"
	"sync"

	"github.com/metanode/chaincore/pkg/crypto/hashing"
	"github.com/metanode/chaincore/pkg/header"
	"github.com/metanode/chaincore/pkg/mempool"
	"github.com/metanode/chaincore/pkg/merkle"
)

// receiptsRoot builds a Merkle tree over receipt hashes, in the order
// given, and returns its root. An empty receipt set has the all-zero
// root: there is nothing to batch, so there is nothing to commit to.
func receiptsRoot(receipts []Receipt) (hashing.Hash, error) {
	if len(receipts) == 0 {
		return hashing.Hash{}, nil
	}
	tree, err := receiptsTree(receipts)
	if err != nil {
		return hashing.Hash{}, err
	}
	return tree.Root(), nil
}

// receiptsTree builds the Merkle tree over a receipt set's hashes, in
// body order. Shared by receiptsRoot and ReceiptInclusionProof so both
// hash receipts and pair nodes the same way.
func receiptsTree(receipts []Receipt) (*merkle.Tree, error) {
	leaves := make([]hashing.Hash, len(receipts))
	for i, r := range receipts {
		h, err := r.Hash()
		if err != nil {
			return nil, fmt.Errorf("assembly: hashing receipt %d: %w", i, err)
		}
		leaves[i] = h
	}
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("assembly: building receipts tree: %w", err)
	}
	return tree, nil
}

// ReceiptInclusionProof builds a portable Merkle proof that the receipt
// at index belongs under receiptsRoot, letting an external verifier
// check one receipt's inclusion without holding the whole block body.
func ReceiptInclusionProof(receipts []Receipt, index int) (hashing.Hash, merkle.Proof, error) {
	tree, err := receiptsTree(receipts)
	if err != nil {
		return hashing.Hash{}, merkle.Proof{}, err
	}
	proof, err := tree.Proof(index)
	if err != nil {
		return hashing.Hash{}, merkle.Proof{}, err
	}
	return tree.Root(), proof, nil
}

// Assembler builds block bodies from batched receipts, opaque
// DA/cross-chain roots, and an optional pending auction result. It
// holds no consensus state of its own: one Assembler per proposer,
// reused across heights.
type Assembler struct {
	mu             sync.Mutex
	pendingAuction *mempool.AuctionResult
}

// NewAssembler creates an Assembler with no pending auction result.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// ReceiveAuctionResult records a freshly sealed auction window as
// eligible for inclusion in the next block this node proposes. A
// result already pending is replaced; only the most recent result is
// kept. Normally windows seal one at a time and this is called once
// per seal.
func (a *Assembler) ReceiveAuctionResult(result mempool.AuctionResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingAuction = &result
}

// PendingAuctionResult reports the auction result eligible for the
// next proposed block, if any. Inclusion is at proposer discretion:
// callers decide whether to pass it to Assemble, and a result that
// misses one block stays pending for the next.
func (a *Assembler) PendingAuctionResult() (*mempool.AuctionResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pendingAuction == nil {
		return nil, false
	}
	cp := *a.pendingAuction
	return &cp, true
}

// ConsumeAuctionResult clears the pending auction result after a
// proposer has chosen to bundle it into a block body.
func (a *Assembler) ConsumeAuctionResult() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingAuction = nil
}

// Assemble builds a block body from a flushed receipt batch, the
// opaque DA/xcmp roots supplied by their respective modules, and the
// pending auction result if includeAuction is true. It returns the
// body together with the full set of roots the proposed header must
// carry.
func (a *Assembler) Assemble(pohRange PohRange, receipts []Receipt, receiptsRootIn hashing.Hash, daRoot, xcmpRoot hashing.Hash, xcmpMessages [][]byte, includeAuction bool) (BlockBody, Roots, error) {
	body := BlockBody{
		PohRange:     pohRange,
		Receipts:     receipts,
		XcmpMessages: xcmpMessages,
	}

	if includeAuction {
		if result, ok := a.PendingAuctionResult(); ok {
			body.AuctionResult = result
			a.ConsumeAuctionResult()
		}
	}

	return body, Roots{ReceiptsRoot: receiptsRootIn, DaRoot: daRoot, XcmpRoot: xcmpRoot}, nil
}

// VerifyBody recomputes the receipts root from body.Receipts and
// checks every root against the proposed header, as a validator does
// before sending PREPARE. da_root and xcmp_root are opaque to this
// package: the caller supplies the values its own DA/xcmp modules
// computed, and VerifyBody only checks they match the header.
func VerifyBody(h header.Header, body BlockBody, daRoot, xcmpRoot hashing.Hash) error {
	root, err := receiptsRoot(body.Receipts)
	if err != nil {
		return err
	}
	if root != h.ReceiptsRoot {
		return fmt.Errorf("%w: receipts_root", ErrRootMismatch)
	}
	if daRoot != h.DaRoot {
		return fmt.Errorf("%w: da_root", ErrRootMismatch)
	}
	if xcmpRoot != h.XcmpRoot {
		return fmt.Errorf("%w: xcmp_root", ErrRootMismatch)
	}
	return nil
}
