// Package mempool implements the priority-ordered auction mempool:
// transactions are kept sorted by effective bid rate, grouped into
// sealed-bid windows, and a window's seal greedily admits the highest
// bidders that fit the window's gas budget.
package mempool

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/metanode/chaincore/pkg/crypto/ed25519x"
	"github.com/metanode/chaincore/pkg/crypto/hashing"
	"github.com/metanode/chaincore/pkg/merkle"
)

// Config bounds pool capacity and per-window admission.
type Config struct {
	Capacity         int // pending transactions kept before lowest-priority eviction
	MaxWindowWinners int // per-window winner cap regardless of residual gas
	Now              func() time.Time
}

// DefaultConfig mirrors the reference mempool's defaults: a generous
// pending capacity and a 100-winner cap per window.
func DefaultConfig() Config {
	return Config{
		Capacity:         10000,
		MaxWindowWinners: 100,
		Now:              time.Now,
	}
}

// Mempool is multi-reader, single-writer for mutation; Seal and
// ProcessExpired take the same exclusive lock as Submit since sealing
// removes admitted transactions from the pending slice.
type Mempool struct {
	mu sync.RWMutex

	cfg Config

	pending      []AuctionTransaction
	windows      map[uint64]*AuctionWindow
	nextWindowID uint64
	results      []AuctionResult
}

// New creates an empty mempool under cfg.
func New(cfg Config) *Mempool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.MaxWindowWinners <= 0 {
		cfg.MaxWindowWinners = DefaultConfig().MaxWindowWinners
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Mempool{
		cfg:          cfg,
		windows:      make(map[uint64]*AuctionWindow),
		nextWindowID: 1,
	}
}

// higherPriority reports whether a strictly outranks b: a higher
// effective bid rate wins; ties broken by earlier timestamp, then by
// lower tx_id.
func higherPriority(a, b AuctionTransaction) bool {
	ra, rb := a.EffectiveBidRate(), b.EffectiveBidRate()
	if ra != rb {
		return ra > rb
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return bytes.Compare(a.TxID[:], b.TxID[:]) < 0
}

// Submit inserts tx into the pending set at its priority-ordered
// position. If the pool is over capacity afterward, the single
// lowest-priority entry (which may be tx itself) is evicted.
func (m *Mempool) Submit(tx AuctionTransaction) error {
	var zero hashing.Hash
	if tx.TxID == zero {
		return ErrEmptyTxID
	}
	if err := verifySubmitter(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos := sort.Search(len(m.pending), func(i int) bool {
		return !higherPriority(m.pending[i], tx)
	})
	m.pending = append(m.pending, AuctionTransaction{})
	copy(m.pending[pos+1:], m.pending[pos:])
	m.pending[pos] = tx

	if len(m.pending) > m.cfg.Capacity {
		m.pending = m.pending[:len(m.pending)-1]
	}
	return nil
}

// verifySubmitter checks tx's Ed25519 submitter signature when present.
// A transaction with no SenderPubKey is treated as internally
// originated and passes unauthenticated; one that sets SenderPubKey
// must carry a Signature that verifies over SigningPayload().
func verifySubmitter(tx AuctionTransaction) error {
	if len(tx.SenderPubKey) == 0 {
		return nil
	}
	pub, err := ed25519x.PublicKeyFromBytes(tx.SenderPubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubmitterSig, err)
	}
	sig, err := ed25519x.SignatureFromBytes(tx.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubmitterSig, err)
	}
	payload, err := tx.SigningPayload()
	if err != nil {
		return fmt.Errorf("mempool: building signing payload: %w", err)
	}
	if !pub.Verify(sig, payload) {
		return ErrInvalidSubmitterSig
	}
	return nil
}

// CreateWindow opens a new auction window with the given lifetime and
// gas budget and returns its id.
func (m *Mempool) CreateWindow(duration time.Duration, maxGas uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextWindowID
	m.nextWindowID++

	start := m.cfg.Now()
	m.windows[id] = &AuctionWindow{
		WindowID:  id,
		StartTime: start.Unix(),
		EndTime:   start.Add(duration).Unix(),
		MaxGas:    maxGas,
	}
	return id
}

// Seal admits winners for windowID greedily in priority order while
// cumulative gas stays within the window's budget and the winner count
// stays within MaxWindowWinners. Admitted transactions are removed
// from the pending set. Sealing is idempotent only in the sense that
// repeating it is rejected outright: a sealed window cannot be sealed
// again.
func (m *Mempool) Seal(windowID uint64) (*AuctionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sealLocked(windowID)
}

func (m *Mempool) sealLocked(windowID uint64) (*AuctionResult, error) {
	window, ok := m.windows[windowID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrWindowNotFound, windowID)
	}
	if window.Sealed {
		return nil, fmt.Errorf("%w: %d", ErrWindowSealed, windowID)
	}

	var winners []AuctionTransaction
	var remaining []AuctionTransaction
	var totalGas, totalRevenue uint64

	for _, tx := range m.pending {
		fits := totalGas+tx.GasLimit <= window.MaxGas && len(winners) < m.cfg.MaxWindowWinners
		if fits {
			totalGas += tx.GasLimit
			totalRevenue += tx.BidAmount
			winners = append(winners, tx)
		} else {
			remaining = append(remaining, tx)
		}
	}
	m.pending = remaining

	root, err := merkleRootOfWinners(winners)
	if err != nil {
		return nil, err
	}

	window.Txs = winners
	window.Sealed = true

	result := AuctionResult{
		WindowID:     windowID,
		Winners:      winners,
		TotalRevenue: totalRevenue,
		MerkleRoot:   root,
		Timestamp:    m.cfg.Now().Unix(),
	}
	m.results = append(m.results, result)
	return &result, nil
}

// merkleRootOfWinners builds a Merkle tree over winner tx_ids; an
// empty winner set has the all-zero root.
func merkleRootOfWinners(winners []AuctionTransaction) (hashing.Hash, error) {
	if len(winners) == 0 {
		return hashing.Hash{}, nil
	}
	leaves := make([]hashing.Hash, len(winners))
	for i, w := range winners {
		leaves[i] = w.TxID
	}
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return hashing.Hash{}, fmt.Errorf("mempool: building winners tree: %w", err)
	}
	return tree.Root(), nil
}

// ProcessExpired seals every unsealed window whose end_time has
// passed, returning the results in window-id order.
func (m *Mempool) ProcessExpired() ([]AuctionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Now().Unix()
	var expired []uint64
	for id, w := range m.windows {
		if !w.Sealed && now >= w.EndTime {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })

	var out []AuctionResult
	for _, id := range expired {
		res, err := m.sealLocked(id)
		if err != nil {
			return out, err
		}
		out = append(out, *res)
	}
	return out, nil
}

// Stats returns a point-in-time occupancy snapshot.
func (m *Mempool) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active int
	for _, w := range m.windows {
		if !w.Sealed {
			active++
		}
	}
	var revenue uint64
	for _, r := range m.results {
		revenue += r.TotalRevenue
	}
	return Stats{
		PendingTransactions: len(m.pending),
		ActiveWindows:       active,
		CompletedAuctions:   len(m.results),
		TotalRevenue:        revenue,
	}
}

// Pending returns a defensive copy of the current priority-ordered
// pending slice, highest priority first.
func (m *Mempool) Pending() []AuctionTransaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AuctionTransaction, len(m.pending))
	copy(out, m.pending)
	return out
}

// Window returns a copy of a window's current state, for inspection.
func (m *Mempool) Window(windowID uint64) (AuctionWindow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[windowID]
	if !ok {
		return AuctionWindow{}, false
	}
	return *w, true
}
