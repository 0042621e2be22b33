package poh

import (
	"errors"
	"testing"

	"github.com/metanode/chaincore/pkg/crypto/hashing"
	"github.com/metanode/chaincore/pkg/nodestate"
)

type memKV struct {
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (m *memKV) Set(key, value []byte) error {
	m.data[string(key)] = append([]byte{}, value...)
	return nil
}

func newTestClock(t *testing.T) *Clock {
	t.Helper()
	store := nodestate.NewStore(newMemKV())
	c, err := NewClock(store)
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}
	return c
}

func TestAppendIncrementsHeightAndChains(t *testing.T) {
	c := newTestClock(t)

	t1, err := c.Append([]byte("payload-1"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if t1.Height != 1 {
		t.Fatalf("first tick height = %d, want 1", t1.Height)
	}
	var zero hashing.Hash
	if t1.PrevHash != zero {
		t.Fatalf("first tick prev_hash = %x, want zero hash", t1.PrevHash)
	}

	t2, err := c.Append([]byte("payload-2"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if t2.Height != 2 {
		t.Fatalf("second tick height = %d, want 2", t2.Height)
	}
	if t2.PrevHash != t1.OutHash {
		t.Fatalf("second tick prev_hash = %x, want %x", t2.PrevHash, t1.OutHash)
	}
	if t2.OutHash == t1.OutHash {
		t.Fatalf("consecutive ticks produced identical out_hash")
	}
}

func TestAppendDeterministicOutHash(t *testing.T) {
	c1 := newTestClock(t)
	c2 := newTestClock(t)

	a, err := c1.Append([]byte("same-payload"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	b, err := c2.Append([]byte("same-payload"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if a.OutHash != b.OutHash {
		t.Fatalf("identical (height, prev_hash, payload) produced different out_hash: %x vs %x", a.OutHash, b.OutHash)
	}
}

func TestTailReflectsLastAppend(t *testing.T) {
	c := newTestClock(t)
	if c.Tail().Height != 0 {
		t.Fatalf("fresh clock tail height = %d, want 0", c.Tail().Height)
	}
	last, err := c.Append([]byte("x"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if c.Tail() != last {
		t.Fatalf("Tail() = %+v, want %+v", c.Tail(), last)
	}
}

func TestRootOverFullRange(t *testing.T) {
	c := newTestClock(t)
	for i := 0; i < 4; i++ {
		if _, err := c.Append([]byte{byte(i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	root1, err := c.Root(1, 4)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	root2, err := c.Root(1, 4)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root1 != root2 {
		t.Fatalf("Root is not deterministic across calls: %x vs %x", root1, root2)
	}
}

func TestRootRejectsGapRange(t *testing.T) {
	c := newTestClock(t)
	for i := 0; i < 2; i++ {
		if _, err := c.Append([]byte{byte(i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	_, err := c.Root(1, 10)
	if !errors.Is(err, ErrPohGap) {
		t.Fatalf("Root over unproduced range: err = %v, want ErrPohGap", err)
	}
}

func TestNewClockRestartsFromPersistedTail(t *testing.T) {
	kv := newMemKV()
	store := nodestate.NewStore(kv)

	c1, err := NewClock(store)
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}
	last, err := c1.Append([]byte("persisted"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	c2, err := NewClock(store)
	if err != nil {
		t.Fatalf("NewClock (restart): %v", err)
	}
	if c2.Tail().Height != last.Height {
		t.Fatalf("restarted clock tail height = %d, want %d", c2.Tail().Height, last.Height)
	}
	if c2.Tail().OutHash != last.OutHash {
		t.Fatalf("restarted clock tail out_hash = %x, want %x", c2.Tail().OutHash, last.OutHash)
	}
}
