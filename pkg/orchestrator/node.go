// Package orchestrator wires the crypto, PoH, validator set, header,
// IBFT, mempool, assembly and ZJL packages into one running node: the
// startup order C1->C2->C4->C3->C5 with C6/C7/C8 running in parallel,
// persisted-state recovery, the background round timer/window
// sweeper/ZJL rotation tasks, and graceful shutdown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/metanode/chaincore/pkg/assembly"
	"github.com/metanode/chaincore/pkg/audit/zjl"
	"github.com/metanode/chaincore/pkg/config"
	"github.com/metanode/chaincore/pkg/crypto/bls"
	"github.com/metanode/chaincore/pkg/crypto/hashing"
	"github.com/metanode/chaincore/pkg/header"
	"github.com/metanode/chaincore/pkg/ibft"
	"github.com/metanode/chaincore/pkg/mempool"
	"github.com/metanode/chaincore/pkg/metrics"
	"github.com/metanode/chaincore/pkg/nodestate"
	"github.com/metanode/chaincore/pkg/poh"
	"github.com/metanode/chaincore/pkg/validatorset"
)

// Deps carries the components NewNode cannot construct from cfg alone:
// the validator roster and this node's identity within it, its signing
// key, durable storage, the active ZJL file, the message transport, and
// optional metrics/logging. Everything else (PoH clock, mempool,
// assembler, header validator, equivocation tracker) is built from cfg.
type Deps struct {
	Validators *validatorset.Set
	SelfIndex  int
	SelfKey    *bls.PrivateKey
	Store      *nodestate.Store
	ZJLWriter  *zjl.Writer
	Transport  Transport
	Metrics    *metrics.Registry
	Logger     *log.Logger
}

// Node owns one validator's full running state: the current-height
// IBFT machine, the mempool and assembler feeding it, the ZJL writer
// auditing every state-affecting action, and the background tasks
// keeping all of it moving between heights.
type Node struct {
	cfg *config.Config

	validators *validatorset.Set
	selfIndex  int
	selfKey    *bls.PrivateKey

	store     *nodestate.Store
	clock     *poh.Clock
	headerVal *header.Validator
	equiv     *ibft.EquivocationTracker

	mp        *mempool.Mempool
	batcher   *assembly.Batcher
	assembler *assembly.Assembler

	zjlMu     sync.Mutex
	zjlWriter *zjl.Writer
	zjlSeq    int

	transport Transport
	metrics   *metrics.Registry
	logger    *log.Logger

	mu      sync.Mutex
	running bool
	parent  header.Header
	machine *ibft.Machine
	timer   *ibft.RoundTimer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewNode builds a Node ready for Start. It recovers the last
// finalized header from deps.Store if present, or bootstraps genesis
// if this is a fresh node (C3), then arms a fresh IBFT machine (C5)
// for the next height against deps.Validators (C4) and deps.SelfKey
// (C1), and builds the mempool (C6) and assembler (C7) the machine
// will draw on once started. The ZJL writer (C8) is taken from
// deps.ZJLWriter as given.
func NewNode(cfg *config.Config, deps Deps) (*Node, error) {
	if deps.Transport == nil {
		return nil, ErrNoTransport
	}
	if deps.Validators == nil {
		return nil, fmt.Errorf("orchestrator: no validator set supplied")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("orchestrator: no nodestate store supplied")
	}
	if deps.ZJLWriter == nil {
		return nil, fmt.Errorf("orchestrator: no zjl writer supplied")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[Node] ", log.LstdFlags)
	}

	clock, err := poh.NewClock(deps.Store)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: starting poh clock: %w", err)
	}

	parent, err := loadParent(deps.Store, deps.Validators)
	if err != nil {
		return nil, err
	}

	mp := mempool.New(mempool.Config{
		Capacity:         cfg.Mempool.MaxPendingTransactions,
		MaxWindowWinners: cfg.Mempool.MaxWinnersPerWindow,
	})

	n := &Node{
		cfg:        cfg,
		validators: deps.Validators,
		selfIndex:  deps.SelfIndex,
		selfKey:    deps.SelfKey,
		store:      deps.Store,
		clock:      clock,
		headerVal:  header.NewValidator(),
		equiv:      ibft.NewEquivocationTracker(),
		mp:         mp,
		batcher:    assembly.NewBatcher(assembly.DefaultBatcherConfig()),
		assembler:  assembly.NewAssembler(),
		zjlWriter:  deps.ZJLWriter,
		transport:  deps.Transport,
		metrics:    deps.Metrics,
		logger:     logger,
		parent:     parent,
	}
	n.timer = ibft.NewRoundTimer(cfg.IBFT.BaseRoundTimeout.Duration, n.onRoundTimeout)
	n.machine = n.newMachineLocked(parent)
	return n, nil
}

// loadParent recovers the last finalized header from store, or builds
// genesis if the store has never recorded one.
func loadParent(store *nodestate.Store, validators *validatorset.Set) (header.Header, error) {
	state, err := store.LoadFinalized()
	if errors.Is(err, nodestate.ErrNotFound) {
		setHash, err := validators.Hash()
		if err != nil {
			return header.Header{}, fmt.Errorf("orchestrator: hashing genesis validator set: %w", err)
		}
		genesis := header.Genesis(header.GenesisConfig{
			Timestamp:        time.Now().Unix(),
			ValidatorSetHash: setHash,
		})
		return genesis, nil
	}
	if err != nil {
		return header.Header{}, fmt.Errorf("orchestrator: loading finalized state: %w", err)
	}
	// The store keeps only each finalized header's hash, so height 0's
	// header is rebuilt from the validator set hash alone. The rebuilt
	// genesis has a zero timestamp; the bootstrap branch above stamps a
	// fresh genesis with the current time, which is not persisted.
	if state.Height == 0 {
		setHash, err := validators.Hash()
		if err != nil {
			return header.Header{}, fmt.Errorf("orchestrator: hashing genesis validator set: %w", err)
		}
		return header.Genesis(header.GenesisConfig{ValidatorSetHash: setHash}), nil
	}
	return header.Header{}, fmt.Errorf("orchestrator: resuming at height %d requires the full header, not just its hash (out of scope for this store shape)", state.Height)
}

func (n *Node) newMachineLocked(parent header.Header) *ibft.Machine {
	return ibft.NewMachine(ibft.MachineConfig{
		Height:     parent.Height + 1,
		Parent:     parent,
		Validators: n.validators,
		HeaderVal:  n.headerVal,
		Equiv:      n.equiv,
		SelfIndex:  n.selfIndex,
		SelfKey:    n.selfKey,
	})
}

// Height reports the height the node's current IBFT machine is
// running.
func (n *Node) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.machine.Height()
}

// Start spawns the node's background tasks: the inbound-message
// dispatch loop, the mempool window sweeper, and the round timer for
// the current height. It returns once every task is running; they
// stop when ctx is cancelled or Shutdown is called.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return ErrAlreadyRunning
	}
	n.running = true
	n.stopCh = make(chan struct{})
	n.mu.Unlock()

	n.wg.Add(3)
	go n.runInboundLoop(ctx)
	go n.runWindowSweeper(ctx)
	go n.runZJLRotation(ctx)
	n.timer.Start(ctx, n.Round())

	n.setTaskAlive("inbound", true)
	n.setTaskAlive("window_sweeper", true)
	n.setTaskAlive("zjl_rotation", true)
	n.logger.Printf("node started at height %d", n.Height())
	return nil
}

// parentSnapshot returns the header the current machine is building on
// top of.
func (n *Node) parentSnapshot() header.Header {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.parent
}

// Round reports the IBFT round the current machine is on.
func (n *Node) Round() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.machine.Round()
}

// Shutdown stops every background task and seals the active ZJL file
// so its audit trail is closed and verifiable. It writes nothing to the
// nodestate store; the finalized header hash and certificate were
// already persisted when each height finalized. It does not close the
// transport: callers that own the transport's lifecycle close it
// themselves after Shutdown returns.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return ErrNotRunning
	}
	n.running = false
	close(n.stopCh)
	n.mu.Unlock()

	n.timer.Stop()
	n.wg.Wait()

	n.setTaskAlive("inbound", false)
	n.setTaskAlive("window_sweeper", false)
	n.setTaskAlive("zjl_rotation", false)

	if err := n.currentZJLWriter().Seal(); err != nil && !errors.Is(err, zjl.ErrAlreadySealed) {
		return fmt.Errorf("orchestrator: sealing zjl file at shutdown: %w", err)
	}
	n.logger.Printf("node shut down at height %d", n.Height())
	return nil
}

func (n *Node) setTaskAlive(task string, alive bool) {
	if n.metrics != nil {
		n.metrics.SetTaskAlive(task, alive)
	}
}

// onRoundTimeout is the RoundTimer's fire callback: it advances the
// machine to round+1, audits the view change, and re-arms the timer
// for the new round. It does not re-propose, even when this node is
// the new round's leader: proposals arrive as inbound PRE-PREPAREs
// (this node has no transaction-building VM of its own).
func (n *Node) onRoundTimeout(round uint64) {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	next := round + 1
	n.machine.StartRound(next)
	height := n.machine.Height()
	n.mu.Unlock()

	if n.metrics != nil {
		n.metrics.ConsensusRound.Set(float64(next))
	}
	if _, err := n.currentZJLWriter().Append("view_change", 0, 0, []byte(fmt.Sprintf("height=%d round=%d", height, next))); err != nil {
		n.logger.Printf("audit append for view change failed: %v", err)
	}
	n.timer.Start(context.Background(), next)
}

// runWindowSweeper seals any auction window whose end time has passed,
// forwarding each sealed result to the assembler so the next proposed
// block can include it.
func (n *Node) runWindowSweeper(ctx context.Context) {
	defer n.wg.Done()
	interval := n.cfg.Mempool.WindowDuration.Duration
	if interval <= 0 {
		interval = 400 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
			results, err := n.mp.ProcessExpired()
			if err != nil {
				n.logger.Printf("processing expired auction windows: %v", err)
				continue
			}
			for _, result := range results {
				n.assembler.ReceiveAuctionResult(result)
				if n.metrics != nil {
					n.metrics.MempoolPending.Set(float64(n.mp.Stats().PendingTransactions))
				}
			}
		}
	}
}

// currentZJLWriter returns the writer currently accepting Append calls.
// Rotation swaps this pointer under zjlMu, independently of n.mu, so an
// in-flight audit append never blocks on consensus state or vice versa.
func (n *Node) currentZJLWriter() *zjl.Writer {
	n.zjlMu.Lock()
	defer n.zjlMu.Unlock()
	return n.zjlWriter
}

// zjlSizeCheckInterval bounds how often runZJLRotation polls the active
// segment's size; it is never larger than the configured rotation
// interval, so a short RotationInterval still gets checked promptly.
const zjlSizeCheckInterval = time.Minute

// runZJLRotation seals the active ZJL segment and opens a fresh one
// once it has aged past RotationInterval or grown past
// MaxSegmentBytes, whichever comes first. A zero value for either
// setting disables that trigger.
func (n *Node) runZJLRotation(ctx context.Context) {
	defer n.wg.Done()

	checkEvery := zjlSizeCheckInterval
	if d := n.cfg.ZJL.RotationInterval.Duration; d > 0 && d < checkEvery {
		checkEvery = d
	}
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	lastRotation := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
			due := n.cfg.ZJL.RotationInterval.Duration > 0 && time.Since(lastRotation) >= n.cfg.ZJL.RotationInterval.Duration
			oversized := n.cfg.ZJL.MaxSegmentBytes > 0 && n.currentZJLWriter().Size() >= n.cfg.ZJL.MaxSegmentBytes
			if !due && !oversized {
				continue
			}
			if err := n.rotateZJL(); err != nil {
				n.logger.Printf("zjl rotation failed: %v", err)
				continue
			}
			lastRotation = time.Now()
		}
	}
}

// rotateZJL seals the current segment and opens the next one in
// cfg.ZJL.DataDir, signing the new segment's seal with this
// validator's own key just like the segment NewNode was handed.
func (n *Node) rotateZJL() error {
	n.zjlMu.Lock()
	defer n.zjlMu.Unlock()

	if err := n.zjlWriter.Seal(); err != nil && !errors.Is(err, zjl.ErrAlreadySealed) {
		return fmt.Errorf("orchestrator: sealing zjl segment at rotation: %w", err)
	}

	n.zjlSeq++
	path := filepath.Join(n.cfg.ZJL.DataDir, fmt.Sprintf("segment-%06d.zjlock", n.zjlSeq))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("orchestrator: creating zjl segment %s: %w", path, err)
	}

	wcfg := zjl.DefaultWriterConfig()
	wcfg.SignKey = n.selfKey
	w, err := zjl.Create(f, wcfg)
	if err != nil {
		f.Close()
		return fmt.Errorf("orchestrator: creating zjl writer for segment %s: %w", path, err)
	}

	n.zjlWriter = w
	n.logger.Printf("rotated zjl segment to %s", path)
	return nil
}

// runInboundLoop dispatches every Envelope the transport delivers into
// the current machine, advancing it through PREPARE and COMMIT and
// driving Finalize once a commit certificate forms.
func (n *Node) runInboundLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case env, ok := <-n.transport.Inbound():
			if !ok {
				return
			}
			n.handleEnvelope(env)
		}
	}
}

// currentMachine returns the Node's active machine. The Machine
// synchronizes its own state internally, so callers may drive it
// without holding n.mu; n.mu only ever guards the pointer swap that
// happens at finalization.
func (n *Node) currentMachine() *ibft.Machine {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.machine
}

// handleEnvelope drives the active machine with one inbound message
// and broadcasts this node's own resulting vote, if any. Per the
// concurrency model, no lock is held across the broadcast or (in the
// commit case) the finalize path's persistence and audit I/O.
func (n *Node) handleEnvelope(env Envelope) {
	m := n.currentMachine()

	switch {
	case env.PrePrepare != nil:
		if err := m.OnPrePrepare(*env.PrePrepare, env.SenderIndex); err != nil {
			n.logger.Printf("pre-prepare from %d rejected: %v", env.SenderIndex, err)
			return
		}
		prepare, err := m.OwnPrepare()
		if err != nil {
			n.logger.Printf("building own prepare: %v", err)
			return
		}
		if err := n.transport.Broadcast(Envelope{Prepare: &prepare}); err != nil {
			n.logger.Printf("broadcasting prepare: %v", err)
		}

	case env.Prepare != nil:
		reached, err := m.OnPrepare(env.SenderIndex, *env.Prepare)
		if err != nil {
			n.logger.Printf("prepare from %d rejected: %v", env.SenderIndex, err)
			return
		}
		if reached {
			commit, err := m.OwnCommit()
			if err != nil {
				n.logger.Printf("building own commit: %v", err)
				return
			}
			if err := n.transport.Broadcast(Envelope{Commit: &commit}); err != nil {
				n.logger.Printf("broadcasting commit: %v", err)
			}
		}

	case env.Commit != nil:
		reached, cert, err := m.OnCommit(env.SenderIndex, *env.Commit)
		if err != nil {
			n.logger.Printf("commit from %d rejected: %v", env.SenderIndex, err)
			return
		}
		if reached && cert != nil {
			n.finalize(m, cert)
		}
	}
}

// finalize persists the finalized header and its commit certificate,
// audits both, emits a checkpoint artifact every CheckpointInterval
// heights, and swaps in the next height's machine.
func (n *Node) finalize(m *ibft.Machine, cert *ibft.CommitCertificate) {
	if err := m.Finalize(); err != nil {
		n.logger.Printf("finalize failed: %v", err)
		return
	}
	proposal, headerHash := m.Proposal()
	if proposal == nil {
		n.logger.Printf("finalize with no retained proposal at height %d", m.Height())
		return
	}

	certState := nodestate.CertificateState{
		Height:     cert.Height,
		Round:      cert.Round,
		HeaderHash: [32]byte(cert.HeaderHash),
		AggSig:     cert.AggSig.Bytes(),
		Bitmap:     cert.Bitmap,
	}

	if err := n.store.SaveFinalized(nodestate.FinalizedState{
		Height:      proposal.Header.Height,
		HeaderHash:  [32]byte(headerHash),
		FinalizedAt: time.Now(),
	}); err != nil {
		n.logger.Printf("persisting finalized state: %v", err)
	}
	if err := n.store.SaveCertificate(certState); err != nil {
		n.logger.Printf("persisting commit certificate: %v", err)
	}
	if _, err := n.currentZJLWriter().Append("block_finalized", 0, 0, headerHash.Bytes()); err != nil {
		n.logger.Printf("audit append for finalize failed: %v", err)
	}
	n.emitCheckpointIfDue(proposal.Header.Height, headerHash, certState)
	if n.metrics != nil {
		n.metrics.ConsensusHeight.Set(float64(proposal.Header.Height))
		n.metrics.ConsensusRound.Set(0)
	}

	n.mu.Lock()
	n.parent = proposal.Header
	n.machine = n.newMachineLocked(n.parent)
	n.mu.Unlock()

	n.timer.Start(context.Background(), 0)
}

// emitCheckpointIfDue surfaces the finalized header and its certificate
// as a checkpoint artifact for external anchoring every
// IBFT.CheckpointInterval heights, per the C5 checkpoint-certificate
// contract. A zero interval disables checkpoint emission.
func (n *Node) emitCheckpointIfDue(height uint64, headerHash hashing.Hash, cert nodestate.CertificateState) {
	interval := n.cfg.IBFT.CheckpointInterval
	if interval == 0 || height%interval != 0 {
		return
	}

	checkpoint := nodestate.CheckpointState{
		Height:      height,
		HeaderHash:  [32]byte(headerHash),
		Certificate: cert,
		EmittedAt:   time.Now(),
	}
	if err := n.store.SaveCheckpoint(checkpoint); err != nil {
		n.logger.Printf("persisting checkpoint at height %d: %v", height, err)
		return
	}

	payload, err := hashing.CanonicalEncode(checkpoint)
	if err != nil {
		n.logger.Printf("encoding checkpoint at height %d: %v", height, err)
		return
	}
	if _, err := n.currentZJLWriter().Append("checkpoint", 0, 0, payload); err != nil {
		n.logger.Printf("audit append for checkpoint at height %d failed: %v", height, err)
		return
	}
	n.logger.Printf("emitted checkpoint artifact at height %d", height)
}
