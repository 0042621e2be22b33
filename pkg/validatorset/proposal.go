package validatorset

import (
	"github.com/metanode/chaincore/pkg/crypto/vrf"
	"github.com/metanode/chaincore/pkg/header"
)

// HeaderProposal bundles a proposed header with the VRF evidence that
// justifies the proposer's slot: proof, output, and claimed index.
type HeaderProposal struct {
	Header         header.Header
	VrfProof       *vrf.Proof
	VrfOutput      [32]byte
	ProposerIndex  int
}

// Verify recomputes the leader index from VrfProof/VrfOutput and
// checks it matches ProposerIndex, using vrfInput as the VRF's signed
// input (typically height||round, canonically encoded by the caller).
func (p *HeaderProposal) Verify(s *Set, vrfInput []byte) error {
	return s.VerifyLeader(p.Header.Height, p.Header.Round, p.ProposerIndex, vrfInput, p.VrfProof)
}
