package ibft

import (
	"sync"

	"github.com/metanode/chaincore/pkg/crypto/hashing"
)

type slotKey struct {
	height uint64
	round  uint64
	phase  Phase
	signer string
}

// Evidence records two signed messages a validator produced for the
// same (height, round, phase) with different header hashes — the
// detectable, slashable condition spec.md §4.5 names equivocation.
type Evidence struct {
	Height    uint64
	Round     uint64
	Phase     Phase
	Signer    string
	FirstHash hashing.Hash
	SecondHash hashing.Hash
}

// EquivocationTracker observes signed (validator, height, round, phase,
// header_hash) tuples and flags a conflicting pair.
type EquivocationTracker struct {
	mu   sync.Mutex
	seen map[slotKey]hashing.Hash
}

// NewEquivocationTracker builds an empty tracker.
func NewEquivocationTracker() *EquivocationTracker {
	return &EquivocationTracker{seen: make(map[slotKey]hashing.Hash)}
}

// Observe records a signed message and returns evidence if it
// conflicts with a prior observation for the same slot.
func (e *EquivocationTracker) Observe(signer string, height, round uint64, phase Phase, headerHash hashing.Hash) (*Evidence, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := slotKey{height: height, round: round, phase: phase, signer: signer}
	prior, ok := e.seen[key]
	if !ok {
		e.seen[key] = headerHash
		return nil, false
	}
	if prior == headerHash {
		return nil, false
	}
	return &Evidence{
		Height:     height,
		Round:      round,
		Phase:      phase,
		Signer:     signer,
		FirstHash:  prior,
		SecondHash: headerHash,
	}, true
}
