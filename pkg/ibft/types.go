// Package ibft implements the IBFT three-phase consensus state machine:
// PRE-PREPARE, PREPARE, COMMIT, 2f+1 thresholds, round timers with
// exponential back-off, view change on timeout, and aggregate-BLS
// commit certificates.
package ibft

import (
	"github.com/metanode/chaincore/pkg/crypto/bls"
	"github.com/metanode/chaincore/pkg/crypto/hashing"
	"github.com/metanode/chaincore/pkg/crypto/vrf"
	"github.com/metanode/chaincore/pkg/header"
)

// Phase is a state in the per-(height,round) state machine.
type Phase string

const (
	PhaseNewRound    Phase = "new_round"
	PhasePrePrepared Phase = "pre_prepared"
	PhasePrepared    Phase = "prepared"
	PhaseCommitted   Phase = "committed"
	PhaseFinalized   Phase = "finalized"
)

// PrePrepare carries the leader's proposal for (height, round).
type PrePrepare struct {
	Height   uint64
	Round    uint64
	Header   header.Header
	VrfProof *vrf.Proof
}

// Prepare attests a validator saw a given header_hash proposed at
// (height, round).
type Prepare struct {
	Height     uint64
	Round      uint64
	HeaderHash hashing.Hash
}

// Commit carries a validator's BLS signature over header_hash at
// (height, round).
type Commit struct {
	Height     uint64
	Round      uint64
	HeaderHash hashing.Hash
	Signature  *bls.Signature
}

// CommitCertificate is the aggregate-signature proof that >= 2f+1
// validators committed a header.
type CommitCertificate struct {
	HeaderHash hashing.Hash
	AggSig     *bls.Signature
	Bitmap     []byte
	Height     uint64
	Round      uint64
}

// SetBit sets bit i (validator i signed) in a bitmap sized for n
// validators, growing the slice if needed.
func SetBit(bitmap []byte, i int) []byte {
	need := i/8 + 1
	for len(bitmap) < need {
		bitmap = append(bitmap, 0)
	}
	bitmap[i/8] |= 1 << uint(i%8)
	return bitmap
}

// BitSet reports whether bit i is set.
func BitSet(bitmap []byte, i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(1<<uint(i%8)) != 0
}

// PopCount counts the set bits in bitmap.
func PopCount(bitmap []byte) int {
	n := 0
	for _, b := range bitmap {
		for b != 0 {
			n++
			b &= b - 1
		}
	}
	return n
}
