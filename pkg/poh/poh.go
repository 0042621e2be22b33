// Package poh implements the Proof-of-History clock: a single-writer,
// hash-chained, monotonically increasing sequence of ticks that gives
// the rest of the system a verifiable, gap-free notion of elapsed time
// between consensus heights.
package poh

import (
	"errors"
	"fmt"
	"sync"

	"github.com/metanode/chaincore/pkg/crypto/hashing"
	"github.com/metanode/chaincore/pkg/merkle"
	"github.com/metanode/chaincore/pkg/nodestate"
)

var (
	// ErrPohGap is returned by Root when a requested range spans ticks
	// this process does not hold in memory. NewClock does not check the
	// persisted tail against anything and never returns it.
	ErrPohGap = errors.New("poh: gap in tick chain")
	// ErrPohPersistence is returned when nodestate fails to durably
	// record the new tail.
	ErrPohPersistence = errors.New("poh: failed to persist tick")
)

// Tick is a single step of the Proof-of-History chain.
type Tick struct {
	Height   uint64
	PrevHash hashing.Hash
	Payload  []byte
	OutHash  hashing.Hash
}

// tickInput is canonically encoded before hashing so out_hash is
// reproducible across processes and language implementations.
type tickInput struct {
	Height   uint64 `cbor:"height"`
	PrevHash []byte `cbor:"prev_hash"`
	Payload  []byte `cbor:"payload"`
}

// Clock is the single-writer PoH tick producer. Append takes an
// internal mutex only to update the in-memory tail pointer; the mutex
// is released before the persistence call, per the concurrency model's
// rule that locks must never be held across I/O.
type Clock struct {
	mu     sync.Mutex
	tail   Tick
	ticks  []Tick // in-memory history, used to build Root() ranges
	store  *nodestate.Store
}

// NewClock restarts the clock from persisted state, or starts a fresh
// chain at height 0 if none exists.
func NewClock(store *nodestate.Store) (*Clock, error) {
	c := &Clock{store: store}

	state, err := store.LoadPoH()
	if errors.Is(err, nodestate.ErrNotFound) {
		c.tail = Tick{Height: 0, PrevHash: hashing.Hash{}, OutHash: hashing.Hash{}}
		c.ticks = []Tick{c.tail}
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPohPersistence, err)
	}
	c.tail = Tick{Height: state.Height, OutHash: state.OutHash}
	c.ticks = []Tick{c.tail}
	return c, nil
}

// Append produces the next tick: height = prev.height+1, out_hash =
// H(POH, height || prev.out_hash || payload).
func (c *Clock) Append(payload []byte) (Tick, error) {
	c.mu.Lock()
	prev := c.tail
	next := Tick{
		Height:   prev.Height + 1,
		PrevHash: prev.OutHash,
		Payload:  append([]byte{}, payload...),
	}
	enc, err := hashing.CanonicalEncode(tickInput{
		Height:   next.Height,
		PrevHash: next.PrevHash.Bytes(),
		Payload:  next.Payload,
	})
	if err != nil {
		c.mu.Unlock()
		return Tick{}, fmt.Errorf("poh: encode tick: %w", err)
	}
	next.OutHash = hashing.Sum(hashing.DomainPoH, enc)
	c.tail = next
	c.ticks = append(c.ticks, next)
	c.mu.Unlock()

	if err := c.store.SavePoH(nodestate.PoHState{Height: next.Height, OutHash: [32]byte(next.OutHash)}); err != nil {
		return Tick{}, fmt.Errorf("%w: %v", ErrPohPersistence, err)
	}
	return next, nil
}

// Tail returns the most recently produced tick.
func (c *Clock) Tail() Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tail
}

// Root returns a Merkle root over the out_hash of every tick in
// [lo, hi], populating header.poh_root.
func (c *Clock) Root(lo, hi uint64) (hashing.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hi < lo {
		return hashing.Hash{}, fmt.Errorf("poh: invalid range [%d,%d]", lo, hi)
	}
	leaves := make([]hashing.Hash, 0, hi-lo+1)
	for _, t := range c.ticks {
		if t.Height >= lo && t.Height <= hi {
			leaves = append(leaves, t.OutHash)
		}
	}
	if uint64(len(leaves)) != hi-lo+1 {
		return hashing.Hash{}, fmt.Errorf("%w: range [%d,%d] not fully in memory", ErrPohGap, lo, hi)
	}
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return hashing.Hash{}, fmt.Errorf("poh: build root: %w", err)
	}
	return tree.Root(), nil
}
