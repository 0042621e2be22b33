package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/metanode/chaincore/pkg/audit/zjl"
	"github.com/metanode/chaincore/pkg/config"
	"github.com/metanode/chaincore/pkg/crypto/bls"
	"github.com/metanode/chaincore/pkg/crypto/vrf"
	"github.com/metanode/chaincore/pkg/header"
	"github.com/metanode/chaincore/pkg/ibft"
	"github.com/metanode/chaincore/pkg/nodestate"
	"github.com/metanode/chaincore/pkg/validatorset"
)

// memKV is the same in-memory KV test double nodestate's own tests use,
// reimplemented here since nodestate.KV is satisfied structurally and
// the concrete type is unexported in that package.
type memKV struct{ data map[string][]byte }

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(key []byte) ([]byte, error) { return m.data[string(key)], nil }
func (m *memKV) Set(key, value []byte) error {
	m.data[string(key)] = append([]byte{}, value...)
	return nil
}

// seekBuffer is an in-memory io.WriteSeeker, standing in for the
// segment file zjl.Create would otherwise open on disk.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	copy(s.buf[s.pos:end], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		s.pos = int(offset)
	case 1:
		s.pos += int(offset)
	case 2:
		s.pos = len(s.buf) + int(offset)
	}
	return int64(s.pos), nil
}

// singleValidatorFixture builds a one-validator roster (threshold 1 of
// 1) so a full PRE-PREPARE/PREPARE/COMMIT round trip runs without a
// second process to vote.
func singleValidatorFixture(t *testing.T) (*validatorset.Set, *bls.PrivateKey) {
	t.Helper()
	sk, pk, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	set := validatorset.NewSet(1, []validatorset.Info{
		{ID: "validator-0", BlsPubKey: pk, VrfPubKey: pk, Stake: 1},
	})
	return set, sk
}

func newTestNode(t *testing.T, validators *validatorset.Set, selfKey *bls.PrivateKey, transport Transport) *Node {
	t.Helper()
	store := nodestate.NewStore(newMemKV())
	zw, err := zjl.Create(&seekBuffer{}, zjl.DefaultWriterConfig())
	if err != nil {
		t.Fatalf("zjl.Create: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.IBFT.BaseRoundTimeout = config.Duration{Duration: time.Minute}
	cfg.IBFT.CheckpointInterval = 1

	n, err := NewNode(cfg, Deps{
		Validators: validators,
		SelfIndex:  0,
		SelfKey:    selfKey,
		Store:      store,
		ZJLWriter:  zw,
		Transport:  transport,
	})
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	return n
}

func TestNewNodeBootstrapsGenesis(t *testing.T) {
	set, sk := singleValidatorFixture(t)
	n := newTestNode(t, set, sk, NewLoopbackTransport(0))
	if got := n.Height(); got != 1 {
		t.Fatalf("Height() = %d, want 1 (first height after genesis)", got)
	}
	if got := n.Round(); got != 0 {
		t.Fatalf("Round() = %d, want 0", got)
	}
}

func TestStartShutdownIdempotency(t *testing.T) {
	set, sk := singleValidatorFixture(t)
	n := newTestNode(t, set, sk, NewLoopbackTransport(0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := n.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start error = %v, want ErrAlreadyRunning", err)
	}
	if err := n.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := n.Shutdown(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second Shutdown error = %v, want ErrNotRunning", err)
	}
}

// TestSingleValidatorRoundTripFinalizes drives one full consensus round
// through a LoopbackTransport: this node is the only validator, so its
// own PREPARE and COMMIT votes alone cross the 2f+1 threshold (f=0),
// and the round should finalize and advance the node to height 2
// without any externally supplied votes.
func TestSingleValidatorRoundTripFinalizes(t *testing.T) {
	set, sk := singleValidatorFixture(t)
	transport := NewLoopbackTransport(0)
	n := newTestNode(t, set, sk, transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Shutdown(context.Background())

	proof, _, err := vrf.Prove(sk, ibft.VrfInput(1, 0))
	if err != nil {
		t.Fatalf("vrf.Prove: %v", err)
	}

	parentHash, err := header.HashOf(n.parentSnapshot())
	if err != nil {
		t.Fatalf("HashOf(parent): %v", err)
	}
	parent := n.parentSnapshot()

	proposed := header.New(header.Config{
		Version:          1,
		Height:           1,
		PrevHash:         parentHash,
		ValidatorSetHash: parent.ValidatorSetHash,
		Round:            0,
		Timestamp:        parent.Timestamp + 5,
	})

	if err := transport.Broadcast(Envelope{
		PrePrepare: &ibft.PrePrepare{Height: 1, Round: 0, Header: proposed, VrfProof: proof},
	}); err != nil {
		t.Fatalf("Broadcast(PrePrepare): %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n.Height() == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := n.Height(); got != 2 {
		t.Fatalf("Height() after round trip = %d, want 2 (finalized height 1, armed for height 2)", got)
	}

	finalized, err := n.store.LoadFinalized()
	if err != nil {
		t.Fatalf("LoadFinalized: %v", err)
	}
	if finalized.Height != 1 {
		t.Fatalf("LoadFinalized().Height = %d, want 1", finalized.Height)
	}

	cert, err := n.store.LoadCertificate(1)
	if err != nil {
		t.Fatalf("LoadCertificate(1): %v", err)
	}
	if cert.Height != 1 || len(cert.AggSig) == 0 {
		t.Fatalf("LoadCertificate(1) = %+v, want non-empty AggSig at height 1", cert)
	}

	checkpoint, err := n.store.LoadCheckpoint()
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if checkpoint.Height != 1 {
		t.Fatalf("LoadCheckpoint().Height = %d, want 1 (CheckpointInterval=1)", checkpoint.Height)
	}
}
