package zjl

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/metanode/chaincore/pkg/crypto/bls"
	"github.com/metanode/chaincore/pkg/crypto/hashing"
	"github.com/metanode/chaincore/pkg/merkle"
)

// rawBlock is one block as read off disk, before payload
// interpretation.
type rawBlock struct {
	Offset     uint64
	Type       uint32
	Compressed []byte
}

// Reader opens a sealed or still-open ZJL file and walks its blocks.
// Readers never mutate; an open file is tolerated but truncation at
// the last fully written block is expected, not an error.
type Reader struct {
	header FixedHeader
	dec    *zstd.Decoder
}

// Open validates the fixed header and returns a Reader positioned to
// walk blocks from ExtractEntries.
func Open(data []byte) (*Reader, []byte, error) {
	if len(data) < HeaderSize {
		return nil, nil, fmt.Errorf("zjl: file shorter than fixed header (%d bytes)", len(data))
	}
	header, err := ParseFixedHeader(data[:HeaderSize])
	if err != nil {
		return nil, nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("zjl: creating zstd decoder: %w", err)
	}
	return &Reader{header: header, dec: dec}, data[HeaderSize:], nil
}

// Header returns the parsed fixed header.
func (r *Reader) Header() FixedHeader { return r.header }

// Sealed reports whether the file's header shows a completed seal.
func (r *Reader) Sealed() bool { return r.header.CentralDirOffset != 0 }

// walkBlocks reads every block from body (the bytes following the
// fixed header) until EOF or an invalid framing is hit — the latter
// is treated as end-of-valid-data, exactly as the original reader
// tolerates truncation rather than failing outright.
func walkBlocks(body []byte) []rawBlock {
	var blocks []rawBlock
	offset := uint64(HeaderSize)
	pos := 0
	for {
		if len(body)-pos < 8 {
			break
		}
		blockType := binary.LittleEndian.Uint32(body[pos : pos+4])
		payloadLen := binary.LittleEndian.Uint32(body[pos+4 : pos+8])
		rest := pos + 8
		need := int(payloadLen) + 4
		if payloadLen == 0 || need < 0 || rest+need > len(body) {
			break
		}
		compressed := body[rest : rest+int(payloadLen)]
		blocks = append(blocks, rawBlock{Offset: offset, Type: blockType, Compressed: compressed})
		offset += uint64(8 + need)
		pos = rest + need
	}
	return blocks
}

// ExtractEntries decompresses and decodes every BlockTypeEntry block
// in append order, verifying each block's CRC and each entry's hash.
func (r *Reader) ExtractEntries(body []byte) ([]WitnessEntry, error) {
	var entries []WitnessEntry
	for _, blk := range walkBlocks(body) {
		if blk.Type != BlockTypeEntry {
			continue
		}
		payload, err := r.decodeBlock(blk)
		if err != nil {
			return nil, err
		}
		var entry WitnessEntry
		if err := cbor.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("zjl: decoding entry at offset %d: %w", blk.Offset, err)
		}
		if !entry.Verify() {
			return nil, fmt.Errorf("%w: entry %d", ErrMerkleMismatch, entry.Sequence)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// decodeBlock checks the trailing CRC-32 and decompresses the payload.
func (r *Reader) decodeBlock(blk rawBlock) ([]byte, error) {
	if len(blk.Compressed) < 4 {
		return nil, fmt.Errorf("zjl: block at offset %d too short for crc trailer", blk.Offset)
	}
	payload := blk.Compressed[:len(blk.Compressed)-4]
	wantCRC := binary.LittleEndian.Uint32(blk.Compressed[len(blk.Compressed)-4:])
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return nil, fmt.Errorf("%w: block at offset %d", ErrCrcMismatch, blk.Offset)
	}
	decoded, err := r.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("zjl: decompressing block at offset %d: %w", blk.Offset, err)
	}
	return decoded, nil
}

// VerifySeal recomputes the Merkle root over the file's entries,
// compares it against the stored central directory root, and — if a
// signatures block is present — verifies the file-level signature
// against pubKey. A single-byte edit anywhere in the payload region
// changes at least one of these three checks.
func (r *Reader) VerifySeal(body []byte, pubKey *bls.PublicKey) error {
	if !r.Sealed() {
		return ErrNotSealed
	}

	entries, err := r.ExtractEntries(body)
	if err != nil {
		return err
	}
	leaves := make([]hashing.Hash, len(entries))
	for i, e := range entries {
		leaves[i] = e.EntryHash
	}
	recomputedRoot, err := entriesMerkleRoot(leaves)
	if err != nil {
		return err
	}

	var cd CentralDirectory
	var sb SignaturesBlock
	var haveSignatures bool
	for _, blk := range walkBlocks(body) {
		switch blk.Type {
		case BlockTypeCentralDirectory:
			payload, err := r.decodeBlock(blk)
			if err != nil {
				return err
			}
			cd, err = UnmarshalCentralDirectory(payload)
			if err != nil {
				return err
			}
		case BlockTypeSignatures:
			payload, err := r.decodeBlock(blk)
			if err != nil {
				return err
			}
			sb, err = UnmarshalSignaturesBlock(payload)
			if err != nil {
				return err
			}
			haveSignatures = true
		}
	}

	if !bytes.Equal(recomputedRoot.Bytes(), cd.MerkleRoot) {
		return ErrMerkleMismatch
	}

	if haveSignatures {
		if pubKey == nil {
			return fmt.Errorf("%w: signatures block present but no public key supplied", ErrSignatureInvalid)
		}
		digest, err := sealDigest(sb.MerkleRoot, sb.CentralDirOffset)
		if err != nil {
			return err
		}
		sig, err := bls.SignatureFromBytes(sb.Signature)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		if !pubKey.VerifyWithDomain(sig, digest.Bytes(), bls.DomainZJLSeal) {
			return ErrSignatureInvalid
		}
	}

	return nil
}

// EntryInclusionProof extracts every entry from body, rebuilds the same
// Merkle tree VerifySeal checks against the central directory, and
// returns a portable proof that the entry at sequence belongs under
// that root — letting a reader check one audit entry's inclusion in a
// sealed file without re-deriving every other entry in it.
func (r *Reader) EntryInclusionProof(body []byte, sequence uint64) (hashing.Hash, merkle.Proof, error) {
	entries, err := r.ExtractEntries(body)
	if err != nil {
		return hashing.Hash{}, merkle.Proof{}, err
	}

	leaves := make([]hashing.Hash, len(entries))
	index := -1
	for i, e := range entries {
		leaves[i] = e.EntryHash
		if e.Sequence == sequence {
			index = i
		}
	}
	if index == -1 {
		return hashing.Hash{}, merkle.Proof{}, fmt.Errorf("zjl: no entry with sequence %d", sequence)
	}

	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return hashing.Hash{}, merkle.Proof{}, err
	}
	proof, err := tree.Proof(index)
	if err != nil {
		return hashing.Hash{}, merkle.Proof{}, err
	}
	return tree.Root(), proof, nil
}

// ReadableEvent is a human-readable rendering of one audit entry, for
// export.
type ReadableEvent struct {
	Sequence  uint64
	TsNs      uint64
	OpType    string
	PID       uint32
	TID       uint32
	DataLen   int
	EntryHash string
}

// Export renders every entry as a human-readable summary, in append
// order.
func (r *Reader) Export(body []byte) ([]ReadableEvent, error) {
	entries, err := r.ExtractEntries(body)
	if err != nil {
		return nil, err
	}
	events := make([]ReadableEvent, len(entries))
	for i, e := range entries {
		events[i] = ReadableEvent{
			Sequence:  e.Sequence,
			TsNs:      e.TsNs,
			OpType:    e.OpType,
			PID:       e.PID,
			TID:       e.TID,
			DataLen:   len(e.Data),
			EntryHash: e.EntryHash.String(),
		}
	}
	return events, nil
}

// ExportJSON writes one JSON object per entry to w, in sequence order.
// A minimal, direct dump of the event list, not a formatted report.
func (r *Reader) ExportJSON(w io.Writer, body []byte) error {
	events, err := r.Export(body)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("zjl: encoding event %d as json: %w", e.Sequence, err)
		}
	}
	return nil
}

// ExportText writes one line of text per entry to w, in sequence order.
func (r *Reader) ExportText(w io.Writer, body []byte) error {
	events, err := r.Export(body)
	if err != nil {
		return err
	}
	for _, e := range events {
		line := fmt.Sprintf("seq=%d ts_ns=%d op=%s pid=%d tid=%d data_len=%d hash=%s\n",
			e.Sequence, e.TsNs, e.OpType, e.PID, e.TID, e.DataLen, e.EntryHash)
		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("zjl: writing event %d as text: %w", e.Sequence, err)
		}
	}
	return nil
}
