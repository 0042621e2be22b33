// Package validatorset holds the validator roster and VRF-based leader
// selection: given (height, round, vrf_output) it deterministically
// names the proposer for that slot.
package validatorset

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metanode/chaincore/pkg/crypto/bls"
	"github.com/metanode/chaincore/pkg/crypto/hashing"
	"github.com/metanode/chaincore/pkg/crypto/vrf"
)

// ErrEmptySet is returned by any operation that requires at least one
// validator.
var ErrEmptySet = errors.New("validatorset: empty validator set")

// Info describes one validator's identity and stake. BlsPubKey signs
// consensus messages; VrfPubKey proves leader-selection eligibility.
// Both are BLS12-381 keys in this lineage's VRF-on-BLS construction,
// but are named and stored separately to match the wire contract,
// since a deployment could in principle issue them independently.
type Info struct {
	ID         string
	BlsPubKey  *bls.PublicKey
	VrfPubKey  *bls.PublicKey
	Stake      uint64
	Address    common.Address
}

// Set is an ordered, immutable validator roster. A new roster is
// installed by constructing a fresh Set and swapping the pointer a
// caller holds — Set itself is never mutated after NewSet returns,
// per the "no mid-run mutation" rule shared by every long-lived
// resource in this system.
type Set struct {
	version    uint64
	validators []Info
}

// NewSet builds an immutable roster at the given version.
func NewSet(version uint64, validators []Info) *Set {
	cp := make([]Info, len(validators))
	copy(cp, validators)
	return &Set{version: version, validators: cp}
}

// Len returns the number of validators.
func (s *Set) Len() int { return len(s.validators) }

// Version returns the roster version this Set was constructed with.
func (s *Set) Version() uint64 { return s.version }

// At returns the validator at index i.
func (s *Set) At(i int) Info { return s.validators[i] }

// All returns a copy of the roster, safe for the caller to range over.
func (s *Set) All() []Info {
	cp := make([]Info, len(s.validators))
	copy(cp, s.validators)
	return cp
}

// ByID looks up a validator by ID.
func (s *Set) ByID(id string) (Info, bool) {
	for _, v := range s.validators {
		if v.ID == id {
			return v, true
		}
	}
	return Info{}, false
}

// IsByzantineFaultTolerant reports whether N validators can tolerate f
// Byzantine faults: N >= 3f+1.
func IsByzantineFaultTolerant(n, f int) bool {
	return n >= 3*f+1
}

// Threshold returns the minimum signer count ceil((2N+1)/3) required
// for a valid commit certificate over an N-validator set.
func Threshold(n int) int {
	return (2*n + 1 + 2) / 3
}

type hashInput struct {
	ID        string `cbor:"id"`
	BlsPubKey []byte `cbor:"bls_pubkey"`
	VrfPubKey []byte `cbor:"vrf_pubkey"`
	Stake     uint64 `cbor:"stake"`
	Address   []byte `cbor:"address"`
}

// Hash computes validator_set_hash: the domain-separated hash of the
// roster's canonical encoding, in roster order.
func (s *Set) Hash() (hashing.Hash, error) {
	inputs := make([]hashInput, len(s.validators))
	for i, v := range s.validators {
		inputs[i] = hashInput{
			ID:        v.ID,
			BlsPubKey: v.BlsPubKey.Bytes(),
			VrfPubKey: v.VrfPubKey.Bytes(),
			Stake:     v.Stake,
			Address:   v.Address.Bytes(),
		}
	}
	return hashing.HashValue(hashing.AlgoBlake3, hashing.DomainValidatorSet, inputs)
}

// LeaderIndex computes seed mod N from a VRF output mixed with height
// and round, per spec.md §4.4: seed := first 8 bytes of vrf_output
// (little-endian) + height + round, all wrapping.
func LeaderIndex(vrfOutput [32]byte, height, round uint64, n int) (int, error) {
	if n <= 0 {
		return 0, ErrEmptySet
	}
	seed := vrf.LeaderSeed(vrfOutput)
	seed += height
	seed += round
	return int(seed % uint64(n)), nil
}

// Leader returns the validator selected to propose at (height, round)
// given vrfOutput.
func (s *Set) Leader(vrfOutput [32]byte, height, round uint64) (Info, int, error) {
	if len(s.validators) == 0 {
		return Info{}, 0, ErrEmptySet
	}
	idx, err := LeaderIndex(vrfOutput, height, round, len(s.validators))
	if err != nil {
		return Info{}, 0, err
	}
	return s.validators[idx], idx, nil
}

// VerifyLeader recomputes the leader index for (height, round) from a
// freshly-verified VRF proof and checks it names proposerIndex.
func (s *Set) VerifyLeader(height, round uint64, proposerIndex int, input []byte, proof *vrf.Proof) error {
	if proposerIndex < 0 || proposerIndex >= len(s.validators) {
		return fmt.Errorf("validatorset: proposer index %d out of range [0,%d)", proposerIndex, len(s.validators))
	}
	proposer := s.validators[proposerIndex]
	output, ok := vrf.Verify(proposer.VrfPubKey, input, proof)
	if !ok {
		return fmt.Errorf("validatorset: vrf proof invalid for proposer %q", proposer.ID)
	}
	idx, err := LeaderIndex(output, height, round, len(s.validators))
	if err != nil {
		return err
	}
	if idx != proposerIndex {
		return fmt.Errorf("validatorset: recomputed leader index %d does not match claimed proposer %d", idx, proposerIndex)
	}
	return nil
}
