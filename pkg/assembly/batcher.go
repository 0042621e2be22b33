package assembly

import (
	"sync"
	"time"
)

// BatcherConfig bounds how long receipts accumulate before a batch is
// ready to flush: whichever of count or time window is hit first.
type BatcherConfig struct {
	MaxReceipts int
	MaxWindow   time.Duration
	Now         func() time.Time
}

// DefaultBatcherConfig mirrors the teacher's on-cadence batch sizing:
// a generous count cap and a short window relative to block time.
func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		MaxReceipts: 2000,
		MaxWindow:   2 * time.Second,
		Now:         time.Now,
	}
}

// Batcher accumulates receipts for the batch currently being built.
// Single-writer: Add and Flush share one lock since flushing resets
// the accumulator in place.
type Batcher struct {
	mu sync.Mutex

	cfg BatcherConfig

	receipts    []Receipt
	windowStart time.Time
}

// NewBatcher creates an empty batcher under cfg.
func NewBatcher(cfg BatcherConfig) *Batcher {
	if cfg.MaxReceipts <= 0 {
		cfg.MaxReceipts = DefaultBatcherConfig().MaxReceipts
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = DefaultBatcherConfig().MaxWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Batcher{cfg: cfg, windowStart: cfg.Now()}
}

// Add appends a receipt and reports whether the batch is now ready to
// flush (count or window threshold reached).
func (b *Batcher) Add(r Receipt) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.receipts) == 0 {
		b.windowStart = b.cfg.Now()
	}
	b.receipts = append(b.receipts, r)

	return len(b.receipts) >= b.cfg.MaxReceipts || b.cfg.Now().Sub(b.windowStart) >= b.cfg.MaxWindow
}

// Len reports the number of receipts accumulated since the last flush.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.receipts)
}

// Flush takes ownership of the accumulated receipts, resets the
// accumulator, and computes their receipts root (zero root for an
// empty batch).
func (b *Batcher) Flush() ([]Receipt, Roots, error) {
	b.mu.Lock()
	receipts := b.receipts
	b.receipts = nil
	b.windowStart = b.cfg.Now()
	b.mu.Unlock()

	root, err := receiptsRoot(receipts)
	if err != nil {
		return nil, Roots{}, err
	}
	return receipts, Roots{ReceiptsRoot: root}, nil
}
