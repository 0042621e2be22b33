package ibft

import (
	"fmt"
	"sync"

	"github.com/metanode/chaincore/pkg/crypto/bls"
	"github.com/metanode/chaincore/pkg/crypto/hashing"
	"github.com/metanode/chaincore/pkg/header"
	"github.com/metanode/chaincore/pkg/validatorset"
)

// VrfInput builds the canonical bytes a proposer's VRF proof is over
// for a given (height, round) slot.
func VrfInput(height, round uint64) []byte {
	enc, err := hashing.CanonicalEncode(struct {
		Height uint64 `cbor:"height"`
		Round  uint64 `cbor:"round"`
	}{Height: height, Round: round})
	if err != nil {
		// CanonicalEncode only fails on unencodable types; a
		// (uint64, uint64) struct is always encodable.
		panic(fmt.Sprintf("ibft: encoding vrf input: %v", err))
	}
	return enc
}

// Machine runs the per-height IBFT state machine across however many
// rounds it takes to finalize. It is logically single-threaded: every
// exported method takes the machine's lock for its full body and
// returns before any network or disk I/O is performed by the caller.
type Machine struct {
	mu sync.Mutex

	height uint64
	parent header.Header

	validators *validatorset.Set
	headerVal  *header.Validator
	equiv      *EquivocationTracker

	selfIndex int
	selfKey   *bls.PrivateKey

	round  uint64
	phase  Phase
	proposal     *PrePrepare
	proposalHash hashing.Hash

	prepareVotes map[hashing.Hash]map[int]struct{}
	commitVotes  map[hashing.Hash]map[int]*bls.Signature

	// lockedHash survives round changes within this height: once this
	// node sends a COMMIT for a hash, it must not commit a different
	// hash at a later round without observing a fresh 2f+1-PREPARE
	// quorum for that new hash (the view-change safety rule).
	lockedHash *hashing.Hash
}

// MachineConfig configures a new per-height Machine.
type MachineConfig struct {
	Height     uint64
	Parent     header.Header
	Validators *validatorset.Set
	HeaderVal  *header.Validator
	Equiv      *EquivocationTracker
	SelfIndex  int
	SelfKey    *bls.PrivateKey
}

// NewMachine starts a fresh height at round 0, phase NewRound.
func NewMachine(cfg MachineConfig) *Machine {
	m := &Machine{
		height:     cfg.Height,
		parent:     cfg.Parent,
		validators: cfg.Validators,
		headerVal:  cfg.HeaderVal,
		equiv:      cfg.Equiv,
		selfIndex:  cfg.SelfIndex,
		selfKey:    cfg.SelfKey,
	}
	m.startRoundLocked(0)
	return m
}

func (m *Machine) startRoundLocked(round uint64) {
	m.round = round
	m.phase = PhaseNewRound
	m.proposal = nil
	m.proposalHash = hashing.Hash{}
	m.prepareVotes = make(map[hashing.Hash]map[int]struct{})
	m.commitVotes = make(map[hashing.Hash]map[int]*bls.Signature)
}

// StartRound advances to a new round (a view change), discarding this
// round's proposal and vote tallies but preserving lockedHash.
func (m *Machine) StartRound(round uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startRoundLocked(round)
}

// Height, Round, and Phase report current state.
func (m *Machine) Height() uint64 { m.mu.Lock(); defer m.mu.Unlock(); return m.height }
func (m *Machine) Round() uint64  { m.mu.Lock(); defer m.mu.Unlock(); return m.round }
func (m *Machine) Phase() Phase   { m.mu.Lock(); defer m.mu.Unlock(); return m.phase }

// OnPrePrepare processes an incoming PRE-PREPARE from proposerIndex
// (the transport layer's authenticated sender identity). A well-formed
// message from the expected leader, whose header passes validation and
// continuity against the local parent, transitions NewRound ->
// PrePrepared.
func (m *Machine) OnPrePrepare(msg PrePrepare, proposerIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Height != m.height {
		return fmt.Errorf("ibft: pre-prepare for height %d, machine is at %d", msg.Height, m.height)
	}
	if msg.Round < m.round {
		return fmt.Errorf("%w: round %d < local round %d", ErrStaleRound, msg.Round, m.round)
	}
	if msg.Round > m.round {
		m.startRoundLocked(msg.Round)
	}
	if m.phase != PhaseNewRound {
		return fmt.Errorf("%w: pre-prepare already received for round %d", ErrProposalRejected, m.round)
	}

	if err := m.validators.VerifyLeader(msg.Height, msg.Round, proposerIndex, VrfInput(msg.Height, msg.Round), msg.VrfProof); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProposer, err)
	}

	if err := m.headerVal.Validate(msg.Header); err != nil {
		return fmt.Errorf("%w: %v", ErrProposalRejected, err)
	}
	if err := m.headerVal.ValidateContinuity(msg.Header, m.parent); err != nil {
		return fmt.Errorf("%w: %v", ErrProposalRejected, err)
	}

	headerHash, err := header.HashOf(msg.Header)
	if err != nil {
		return fmt.Errorf("%w: hashing proposed header: %v", ErrProposalRejected, err)
	}

	signer := m.validators.At(proposerIndex).ID
	if evidence, bad := m.equiv.Observe(signer, msg.Height, msg.Round, PhasePrePrepared, headerHash); bad {
		return fmt.Errorf("%w: %s pre-prepared both %x and %x at height %d round %d",
			ErrEquivocationDetected, evidence.Signer, evidence.FirstHash, evidence.SecondHash, evidence.Height, evidence.Round)
	}

	m.proposal = &msg
	m.proposalHash = headerHash
	m.phase = PhasePrePrepared
	return nil
}

// OwnPrepare builds this node's PREPARE vote for the current proposal.
func (m *Machine) OwnPrepare() (Prepare, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhasePrePrepared {
		return Prepare{}, fmt.Errorf("ibft: no pre-prepared proposal to prepare at round %d", m.round)
	}
	return Prepare{Height: m.height, Round: m.round, HeaderHash: m.proposalHash}, nil
}

// OnPrepare records a PREPARE vote from voterIndex and reports whether
// the 2f+1 threshold for its header_hash has just been reached.
func (m *Machine) OnPrepare(voterIndex int, msg Prepare) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Height != m.height || msg.Round != m.round {
		return false, fmt.Errorf("%w: prepare for (%d,%d), machine is at (%d,%d)", ErrStaleRound, msg.Height, msg.Round, m.height, m.round)
	}

	signer := m.validators.At(voterIndex).ID
	if evidence, bad := m.equiv.Observe(signer, msg.Height, msg.Round, PhasePrepared, msg.HeaderHash); bad {
		return false, fmt.Errorf("%w: %s prepared both %x and %x at height %d round %d",
			ErrEquivocationDetected, evidence.Signer, evidence.FirstHash, evidence.SecondHash, evidence.Height, evidence.Round)
	}

	votes, ok := m.prepareVotes[msg.HeaderHash]
	if !ok {
		votes = make(map[int]struct{})
		m.prepareVotes[msg.HeaderHash] = votes
	}
	votes[voterIndex] = struct{}{}

	reached := len(votes) >= validatorset.Threshold(m.validators.Len())
	if reached && m.phase == PhasePrePrepared && msg.HeaderHash == m.proposalHash {
		m.phase = PhasePrepared
	}
	return reached && m.phase == PhasePrepared, nil
}

// OwnCommit builds this node's COMMIT vote, signing header_hash with
// the local BLS key. Only callable once this round has reached
// Prepared, which already certifies a 2f+1 PREPARE quorum for the hash
// being committed — exactly the condition the view-change safety rule
// requires before overriding a prior lockedHash.
func (m *Machine) OwnCommit() (Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhasePrepared {
		return Commit{}, fmt.Errorf("ibft: round %d is not prepared, cannot commit", m.round)
	}
	sig := m.selfKey.SignWithDomain(m.proposalHash.Bytes(), bls.DomainCommit)
	hash := m.proposalHash
	m.lockedHash = &hash
	return Commit{Height: m.height, Round: m.round, HeaderHash: m.proposalHash, Signature: sig}, nil
}

// OnCommit records a COMMIT vote from voterIndex after verifying its
// signature, and reports whether the 2f+1 threshold was just reached;
// on threshold, it returns the assembled CommitCertificate.
func (m *Machine) OnCommit(voterIndex int, msg Commit) (bool, *CommitCertificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Height != m.height || msg.Round != m.round {
		return false, nil, fmt.Errorf("%w: commit for (%d,%d), machine is at (%d,%d)", ErrStaleRound, msg.Height, msg.Round, m.height, m.round)
	}

	signer := m.validators.At(voterIndex).ID
	if evidence, bad := m.equiv.Observe(signer, msg.Height, msg.Round, PhaseCommitted, msg.HeaderHash); bad {
		return false, nil, fmt.Errorf("%w: %s committed both %x and %x at height %d round %d",
			ErrEquivocationDetected, evidence.Signer, evidence.FirstHash, evidence.SecondHash, evidence.Height, evidence.Round)
	}

	pk := m.validators.At(voterIndex).BlsPubKey
	if !pk.VerifyWithDomain(msg.Signature, msg.HeaderHash.Bytes(), bls.DomainCommit) {
		return false, nil, fmt.Errorf("ibft: invalid commit signature from validator %d", voterIndex)
	}

	votes, ok := m.commitVotes[msg.HeaderHash]
	if !ok {
		votes = make(map[int]*bls.Signature)
		m.commitVotes[msg.HeaderHash] = votes
	}
	votes[voterIndex] = msg.Signature

	required := validatorset.Threshold(m.validators.Len())
	if len(votes) < required || msg.HeaderHash != m.proposalHash {
		return false, nil, nil
	}

	bitmap := []byte{}
	sigs := make([]*bls.Signature, 0, len(votes))
	for idx, sig := range votes {
		bitmap = SetBit(bitmap, idx)
		sigs = append(sigs, sig)
	}
	aggSig, err := bls.AggregateSignatures(sigs)
	if err != nil {
		return false, nil, fmt.Errorf("ibft: aggregating commit signatures: %w", err)
	}

	m.phase = PhaseCommitted
	return true, &CommitCertificate{
		HeaderHash: msg.HeaderHash,
		AggSig:     aggSig,
		Bitmap:     bitmap,
		Height:     m.height,
		Round:      m.round,
	}, nil
}

// Finalize transitions Committed -> Finalized. It writes nothing to
// storage; the orchestrator persists the finalized header's hash and
// its commit certificate after Finalize returns, and no block body is
// persisted.
func (m *Machine) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseCommitted {
		return fmt.Errorf("ibft: round %d is not committed, cannot finalize", m.round)
	}
	m.phase = PhaseFinalized
	return nil
}

// Proposal returns the current round's accepted proposal, if any.
func (m *Machine) Proposal() (*PrePrepare, hashing.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.proposal, m.proposalHash
}
