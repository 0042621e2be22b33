package ibft

import (
	"fmt"

	"github.com/metanode/chaincore/pkg/crypto/bls"
	"github.com/metanode/chaincore/pkg/validatorset"
)

// VerifyCommitCertificate implements the three-step algorithm from
// spec.md §6: collect signers from the bitmap, reject below threshold,
// then verify the aggregate signature against that signer subset over
// header_hash.
func VerifyCommitCertificate(cert *CommitCertificate, validators *validatorset.Set) error {
	n := validators.Len()
	var signers []*bls.PublicKey
	for i := 0; i < n; i++ {
		if BitSet(cert.Bitmap, i) {
			signers = append(signers, validators.At(i).BlsPubKey)
		}
	}

	required := validatorset.Threshold(n)
	if len(signers) < required {
		return fmt.Errorf("%w: %d signers, need %d", ErrCommitThresholdMissed, len(signers), required)
	}

	if !bls.VerifyAggregateSignatureWithDomain(cert.AggSig, signers, cert.HeaderHash.Bytes(), bls.DomainCommit) {
		return fmt.Errorf("ibft: commit certificate aggregate signature does not verify")
	}
	return nil
}
