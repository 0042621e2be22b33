// Package vrf implements a verifiable random function on top of BLS12-381
// signatures: the proof is a BLS signature over a domain-separated input,
// and the output is the SHA-256 digest of that signature. No dedicated
// VRF library is pulled in; this reuses the BLS primitive already
// grounded in pkg/crypto/bls instead of introducing an ungrounded
// dependency for a single-purpose construction.
package vrf

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/metanode/chaincore/pkg/crypto/bls"
)

var (
	// ErrVrfInvalid is the invalid-proof failure kind. Verify reports
	// a failed proof through its boolean result and does not return it.
	ErrVrfInvalid = errors.New("vrf: invalid proof")
)

// Proof wraps the BLS signature that underlies a VRF evaluation.
type Proof struct {
	sig *bls.Signature
}

func (p *Proof) Bytes() []byte {
	return p.sig.Bytes()
}

// ProofFromBytes parses a serialized proof.
func ProofFromBytes(data []byte) (*Proof, error) {
	sig, err := bls.SignatureFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("vrf: parse proof: %w", err)
	}
	return &Proof{sig: sig}, nil
}

// Prove evaluates the VRF for input under sk, returning the proof and
// the 32-byte pseudorandom output derived from it.
func Prove(sk *bls.PrivateKey, input []byte) (*Proof, [32]byte, error) {
	sig := sk.SignWithDomain(input, bls.DomainVRF)
	output := outputFromProof(sig)
	return &Proof{sig: sig}, output, nil
}

// Verify checks that proof is a valid VRF evaluation of input under pk,
// returning the derived output on success.
func Verify(pk *bls.PublicKey, input []byte, proof *Proof) ([32]byte, bool) {
	if proof == nil || proof.sig == nil {
		return [32]byte{}, false
	}
	if !pk.VerifyWithDomain(proof.sig, input, bls.DomainVRF) {
		return [32]byte{}, false
	}
	return outputFromProof(proof.sig), true
}

func outputFromProof(sig *bls.Signature) [32]byte {
	return sha256.Sum256(sig.Bytes())
}

// LeaderSeed reads the output's first 8 bytes little-endian, the raw
// seed validatorset uses to pick the round leader: index = (seed +
// height + round) mod N.
func LeaderSeed(output [32]byte) uint64 {
	var seed uint64
	for i := 0; i < 8; i++ {
		seed |= uint64(output[i]) << (8 * i)
	}
	return seed
}
