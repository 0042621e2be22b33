package zjl

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/metanode/chaincore/pkg/crypto/hashing"
)

// CentralDirectoryEntry indexes one block written before the seal, in
// append order (which is also offset order, since the file is
// write-once).
type CentralDirectoryEntry struct {
	Offset           uint64
	Type             uint32
	Sequence         uint64
	Hash             []byte
	CompressedLen    uint32
	UncompressedLen  uint32
}

// CentralDirectory is the sealed index over every entry block plus the
// Merkle root computed over their hashes in sequence order.
type CentralDirectory struct {
	Entries    []CentralDirectoryEntry
	MerkleRoot []byte
}

// Marshal canonically encodes the directory for storage as a block
// payload.
func (cd CentralDirectory) Marshal() ([]byte, error) {
	b, err := hashing.CanonicalEncode(cd)
	if err != nil {
		return nil, fmt.Errorf("zjl: encoding central directory: %w", err)
	}
	return b, nil
}

// UnmarshalCentralDirectory decodes a directory block payload.
func UnmarshalCentralDirectory(b []byte) (CentralDirectory, error) {
	var cd CentralDirectory
	if err := cbor.Unmarshal(b, &cd); err != nil {
		return CentralDirectory{}, fmt.Errorf("zjl: decoding central directory: %w", err)
	}
	return cd, nil
}

// SignaturesBlock is the file-level signature over the sealed
// directory and root: the third integrity property tying the entry
// set to the signing key.
type SignaturesBlock struct {
	MerkleRoot []byte
	CentralDirOffset uint64
	Signature  []byte
}

func (sb SignaturesBlock) Marshal() ([]byte, error) {
	b, err := hashing.CanonicalEncode(sb)
	if err != nil {
		return nil, fmt.Errorf("zjl: encoding signatures block: %w", err)
	}
	return b, nil
}

func UnmarshalSignaturesBlock(b []byte) (SignaturesBlock, error) {
	var sb SignaturesBlock
	if err := cbor.Unmarshal(b, &sb); err != nil {
		return SignaturesBlock{}, fmt.Errorf("zjl: decoding signatures block: %w", err)
	}
	return sb, nil
}

// sealMessage is what the file-level signature covers: the Merkle
// root tied to the directory's own offset, so a signature can't be
// replayed against a different sealed directory with the same root.
type sealMessage struct {
	MerkleRoot       []byte
	CentralDirOffset uint64
}

func sealDigest(root []byte, centralDirOffset uint64) (hashing.Hash, error) {
	return hashing.HashValue(hashing.AlgoBlake3, hashing.DomainZJLBlock, sealMessage{
		MerkleRoot:       root,
		CentralDirOffset: centralDirOffset,
	})
}
