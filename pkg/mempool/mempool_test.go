package mempool

import (
	"errors"
	"testing"
	"time"

	"github.com/metanode/chaincore/pkg/crypto/ed25519x"
	"github.com/metanode/chaincore/pkg/crypto/hashing"
)

func txID(b byte) hashing.Hash {
	var h hashing.Hash
	h[0] = b
	return h
}

func newTx(id byte, bid, gas uint64, size uint32, ts uint64) AuctionTransaction {
	return AuctionTransaction{
		TxID:        txID(id),
		ChainID:     1,
		BidAmount:   bid,
		GasLimit:    gas,
		DataSize:    size,
		Timestamp:   ts,
		Sender:      "addr1",
		AuctionType: AuctionStandardExecution,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSubmitOrdersByDescendingBidRate(t *testing.T) {
	mp := New(DefaultConfig())
	low := newTx(1, 100, 1000, 1, 1)  // r = 0.1
	high := newTx(2, 1000, 1000, 1, 1) // r = 1.0

	if err := mp.Submit(low); err != nil {
		t.Fatalf("Submit(low): %v", err)
	}
	if err := mp.Submit(high); err != nil {
		t.Fatalf("Submit(high): %v", err)
	}

	pending := mp.Pending()
	if len(pending) != 2 {
		t.Fatalf("pending len = %d, want 2", len(pending))
	}
	if pending[0].TxID != high.TxID {
		t.Fatalf("pending[0] = %x, want the higher bid rate tx", pending[0].TxID)
	}
}

func TestSubmitTieBreaksByTimestampThenTxID(t *testing.T) {
	mp := New(DefaultConfig())
	// Identical bid rate, later timestamp: should rank behind the earlier one.
	a := newTx(5, 100, 1000, 1, 20)
	b := newTx(3, 100, 1000, 1, 10)
	c := newTx(1, 100, 1000, 1, 10) // same rate and timestamp as b, lower tx_id

	for _, tx := range []AuctionTransaction{a, b, c} {
		if err := mp.Submit(tx); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	pending := mp.Pending()
	if pending[0].TxID != c.TxID {
		t.Fatalf("pending[0] = %x, want lowest tx_id among ties", pending[0].TxID)
	}
	if pending[1].TxID != b.TxID {
		t.Fatalf("pending[1] = %x, want b", pending[1].TxID)
	}
	if pending[2].TxID != a.TxID {
		t.Fatalf("pending[2] = %x, want latest timestamp last", pending[2].TxID)
	}
}

func TestSubmitEvictsLowestPriorityAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 2
	mp := New(cfg)

	lowest := newTx(1, 10, 1000, 1, 1)   // r = 0.01
	middle := newTx(2, 100, 1000, 1, 1)  // r = 0.1
	highest := newTx(3, 1000, 1000, 1, 1) // r = 1.0

	for _, tx := range []AuctionTransaction{lowest, middle, highest} {
		if err := mp.Submit(tx); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	pending := mp.Pending()
	if len(pending) != 2 {
		t.Fatalf("pending len = %d, want 2 (capacity enforced)", len(pending))
	}
	for _, tx := range pending {
		if tx.TxID == lowest.TxID {
			t.Fatalf("lowest-priority transaction survived eviction")
		}
	}
}

func TestSubmitRejectsZeroTxID(t *testing.T) {
	mp := New(DefaultConfig())
	if err := mp.Submit(AuctionTransaction{}); err == nil {
		t.Fatalf("Submit accepted a zero tx_id")
	}
}

func TestCreateWindowAndSeal(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cfg := DefaultConfig()
	cfg.Now = fixedClock(now)
	mp := New(cfg)

	tx := newTx(1, 1000, 21000, 100, uint64(now.Unix()))
	if err := mp.Submit(tx); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	windowID := mp.CreateWindow(1000*time.Second, 100000)
	result, err := mp.Seal(windowID)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(result.Winners) != 1 {
		t.Fatalf("winners = %d, want 1", len(result.Winners))
	}
	if result.TotalRevenue != 1000 {
		t.Fatalf("total revenue = %d, want 1000", result.TotalRevenue)
	}
	if result.MerkleRoot == (hashing.Hash{}) {
		t.Fatalf("merkle root is zero for a non-empty winner set")
	}
	if len(mp.Pending()) != 0 {
		t.Fatalf("winner was not removed from pending set")
	}
}

func TestSealExcludesTransactionsOverGasBudget(t *testing.T) {
	mp := New(DefaultConfig())
	cheap := newTx(1, 500, 1000, 1, 1)     // fits
	expensive := newTx(2, 5000, 100000, 1, 1) // does not fit the small budget

	if err := mp.Submit(expensive); err != nil {
		t.Fatalf("Submit(expensive): %v", err)
	}
	if err := mp.Submit(cheap); err != nil {
		t.Fatalf("Submit(cheap): %v", err)
	}

	windowID := mp.CreateWindow(time.Hour, 1000)
	result, err := mp.Seal(windowID)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(result.Winners) != 1 || result.Winners[0].TxID != cheap.TxID {
		t.Fatalf("expected only the cheap transaction to win, got %+v", result.Winners)
	}
	pending := mp.Pending()
	if len(pending) != 1 || pending[0].TxID != expensive.TxID {
		t.Fatalf("expensive transaction should remain pending, got %+v", pending)
	}
}

func TestSealRejectsUnknownWindow(t *testing.T) {
	mp := New(DefaultConfig())
	if _, err := mp.Seal(999); err == nil {
		t.Fatalf("Seal accepted an unknown window id")
	}
}

func TestSealIsNotReenterable(t *testing.T) {
	mp := New(DefaultConfig())
	windowID := mp.CreateWindow(time.Hour, 100000)
	if _, err := mp.Seal(windowID); err != nil {
		t.Fatalf("first Seal: %v", err)
	}
	if _, err := mp.Seal(windowID); err == nil {
		t.Fatalf("second Seal on an already-sealed window succeeded")
	}
}

func TestSealOfEmptyWindowHasZeroRoot(t *testing.T) {
	mp := New(DefaultConfig())
	windowID := mp.CreateWindow(time.Hour, 100000)
	result, err := mp.Seal(windowID)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if result.MerkleRoot != (hashing.Hash{}) {
		t.Fatalf("empty window's merkle root = %x, want zero", result.MerkleRoot)
	}
}

func TestProcessExpiredSealsOnlyPastWindows(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cfg := DefaultConfig()
	cfg.Now = fixedClock(now)
	mp := New(cfg)

	expired := mp.CreateWindow(-1*time.Second, 100000) // already past
	future := mp.CreateWindow(time.Hour, 100000)

	results, err := mp.ProcessExpired()
	if err != nil {
		t.Fatalf("ProcessExpired: %v", err)
	}
	if len(results) != 1 || results[0].WindowID != expired {
		t.Fatalf("expected only the expired window sealed, got %+v", results)
	}

	w, ok := mp.Window(future)
	if !ok {
		t.Fatalf("future window vanished")
	}
	if w.Sealed {
		t.Fatalf("future window was sealed prematurely")
	}
}

func TestStatsReflectsSealedRevenue(t *testing.T) {
	mp := New(DefaultConfig())
	if err := mp.Submit(newTx(1, 1000, 21000, 100, 1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	windowID := mp.CreateWindow(time.Hour, 100000)
	if _, err := mp.Seal(windowID); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	stats := mp.Stats()
	if stats.CompletedAuctions != 1 {
		t.Fatalf("completed auctions = %d, want 1", stats.CompletedAuctions)
	}
	if stats.TotalRevenue != 1000 {
		t.Fatalf("total revenue = %d, want 1000", stats.TotalRevenue)
	}
	if stats.PendingTransactions != 0 {
		t.Fatalf("pending transactions = %d, want 0", stats.PendingTransactions)
	}
}

func TestSubmitVerifiesSubmitterSignature(t *testing.T) {
	sk, pk, err := ed25519x.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	tx := newTx(1, 100, 1000, 1, 1)
	tx.SenderPubKey = pk.Bytes()
	payload, err := tx.SigningPayload()
	if err != nil {
		t.Fatalf("SigningPayload: %v", err)
	}
	tx.Signature = sk.Sign(payload).Bytes()

	mp := New(DefaultConfig())
	if err := mp.Submit(tx); err != nil {
		t.Fatalf("Submit(signed): %v", err)
	}

	tampered := tx
	tampered.BidAmount = 999999
	if err := mp.Submit(tampered); !errors.Is(err, ErrInvalidSubmitterSig) {
		t.Fatalf("Submit(tampered) error = %v, want ErrInvalidSubmitterSig", err)
	}

	unsigned := newTx(2, 100, 1000, 1, 1)
	if err := mp.Submit(unsigned); err != nil {
		t.Fatalf("Submit(unsigned, no SenderPubKey): %v", err)
	}
}
