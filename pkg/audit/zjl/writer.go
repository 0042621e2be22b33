package zjl

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/metanode/chaincore/pkg/crypto/bls"
	"github.com/metanode/chaincore/pkg/crypto/hashing"
	"github.com/metanode/chaincore/pkg/merkle"
)

// State is a ZJL file's lifecycle position: Open is the only state
// that accepts Append; Sealed and Tombstoned both reject it.
type State int

const (
	StateOpen State = iota
	StateSealed
	StateTombstoned
)

// WriterConfig configures a new ZJL file.
type WriterConfig struct {
	Now       func() time.Time
	SignKey   *bls.PrivateKey // signs the seal; nil disables the signatures block
	CompLevel zstd.EncoderLevel
}

// DefaultWriterConfig uses the default Zstd level and real time.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{Now: time.Now, CompLevel: zstd.SpeedDefault}
}

// Writer owns one ZJL file end to end: Open is exclusively owned by
// this writer; no concurrent writer may share the handle. Append is
// single-writer, matching the mempool/header idiom of one exclusive
// lock around the whole mutate-and-write sequence.
type Writer struct {
	mu sync.Mutex

	w   io.WriteSeeker
	cfg WriterConfig

	state  State
	header FixedHeader

	offset      uint64
	nextSeq     uint64
	entryHashes []hashing.Hash
	index       []CentralDirectoryEntry

	enc *zstd.Encoder
}

// Create writes a fresh 160-byte header to w and returns a Writer
// ready to Append. w must support Seek since sealing patches the
// header's offset fields in place once they are known.
func Create(w io.WriteSeeker, cfg WriterConfig) (*Writer, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(cfg.CompLevel))
	if err != nil {
		return nil, fmt.Errorf("zjl: creating zstd encoder: %w", err)
	}

	fileUUID := uuid.New()
	header := FixedHeader{
		Version:        Version,
		FileUUID:       fileUUID,
		CreatedUnixSec: uint64(cfg.Now().Unix()),
	}
	if _, err := w.Write(header.MarshalBinary()); err != nil {
		return nil, fmt.Errorf("zjl: writing fixed header: %w", err)
	}

	return &Writer{
		w:      w,
		cfg:    cfg,
		state:  StateOpen,
		header: header,
		offset: HeaderSize,
		enc:    enc,
	}, nil
}

// Append serializes, compresses and writes one audit record, updating
// the in-memory block index used at seal time.
func (wr *Writer) Append(opType string, pid, tid uint32, data []byte) (WitnessEntry, error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	if wr.state != StateOpen {
		return WitnessEntry{}, ErrFileSealed
	}

	entry, err := NewWitnessEntry(wr.nextSeq, uint64(wr.cfg.Now().UnixNano()), opType, pid, tid, data)
	if err != nil {
		return WitnessEntry{}, err
	}

	payload, err := hashing.CanonicalEncode(entry)
	if err != nil {
		return WitnessEntry{}, fmt.Errorf("zjl: encoding entry %d: %w", entry.Sequence, err)
	}

	offsetBefore := wr.offset
	compressedLen, err := wr.writeBlock(BlockTypeEntry, payload)
	if err != nil {
		return WitnessEntry{}, err
	}

	wr.index = append(wr.index, CentralDirectoryEntry{
		Offset:          offsetBefore,
		Type:            BlockTypeEntry,
		Sequence:        entry.Sequence,
		Hash:            entry.EntryHash.Bytes(),
		CompressedLen:   compressedLen,
		UncompressedLen: uint32(len(payload)),
	})
	wr.entryHashes = append(wr.entryHashes, entry.EntryHash)
	wr.nextSeq++

	return entry, nil
}

// writeBlock compresses payload, frames it as type‖len‖payload‖crc32,
// writes it, and returns the compressed length.
func (wr *Writer) writeBlock(blockType uint32, payload []byte) (uint32, error) {
	compressed := wr.enc.EncodeAll(payload, nil)
	hdr := blockHeader{Type: blockType, PayloadLen: uint32(len(compressed))}

	crc := crc32.ChecksumIEEE(compressed)
	crcBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(crcBuf, crc)

	n, err := wr.w.Write(hdr.marshal())
	if err != nil {
		return 0, fmt.Errorf("zjl: writing block header: %w", err)
	}
	wr.offset += uint64(n)

	n, err = wr.w.Write(compressed)
	if err != nil {
		return 0, fmt.Errorf("zjl: writing block payload: %w", err)
	}
	wr.offset += uint64(n)

	n, err = wr.w.Write(crcBuf)
	if err != nil {
		return 0, fmt.Errorf("zjl: writing block crc: %w", err)
	}
	wr.offset += uint64(n)

	return uint32(len(compressed)), nil
}

// Seal computes the Merkle root over every entry hash in sequence
// order, writes the central directory and (if a signing key was
// configured) the signatures block, then patches the fixed header's
// offset fields in place. After Seal, Append fails.
func (wr *Writer) Seal() error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	if wr.state == StateSealed {
		return ErrAlreadySealed
	}
	if wr.state == StateTombstoned {
		return ErrFileSealed
	}

	root, err := entriesMerkleRoot(wr.entryHashes)
	if err != nil {
		return err
	}

	cd := CentralDirectory{Entries: wr.index, MerkleRoot: root.Bytes()}
	cdPayload, err := cd.Marshal()
	if err != nil {
		return err
	}
	centralDirOffset := wr.offset
	if _, err := wr.writeBlock(BlockTypeCentralDirectory, cdPayload); err != nil {
		return err
	}

	signaturesOffset := uint64(0)
	if wr.cfg.SignKey != nil {
		digest, err := sealDigest(root.Bytes(), centralDirOffset)
		if err != nil {
			return err
		}
		sig := wr.cfg.SignKey.SignWithDomain(digest.Bytes(), bls.DomainZJLSeal)
		sb := SignaturesBlock{MerkleRoot: root.Bytes(), CentralDirOffset: centralDirOffset, Signature: sig.Bytes()}
		sbPayload, err := sb.Marshal()
		if err != nil {
			return err
		}
		signaturesOffset = wr.offset
		if _, err := wr.writeBlock(BlockTypeSignatures, sbPayload); err != nil {
			return err
		}
	}

	wr.header.RootIndexOffset = centralDirOffset
	wr.header.CentralDirOffset = centralDirOffset
	wr.header.SignaturesOffset = signaturesOffset

	if _, err := wr.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("zjl: seeking to header for seal: %w", err)
	}
	if _, err := wr.w.Write(wr.header.MarshalBinary()); err != nil {
		return fmt.Errorf("zjl: rewriting sealed header: %w", err)
	}
	if _, err := wr.w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("zjl: seeking back to end after seal: %w", err)
	}

	wr.state = StateSealed
	return nil
}

// Tombstone marks a sealed file as logically deleted by appending a
// tombstone block and recording its offset; physical deletion is out
// of scope.
func (wr *Writer) Tombstone(reason string) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	if wr.state != StateSealed {
		return ErrNotSealed
	}

	payload, err := hashing.CanonicalEncode(struct{ Reason string }{Reason: reason})
	if err != nil {
		return fmt.Errorf("zjl: encoding tombstone: %w", err)
	}
	tombstoneOffset := wr.offset
	if _, err := wr.writeBlock(BlockTypeTombstone, payload); err != nil {
		return err
	}

	wr.header.TombstoneOffset = tombstoneOffset
	if _, err := wr.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("zjl: seeking to header for tombstone: %w", err)
	}
	if _, err := wr.w.Write(wr.header.MarshalBinary()); err != nil {
		return fmt.Errorf("zjl: rewriting header for tombstone: %w", err)
	}
	if _, err := wr.w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("zjl: seeking back to end after tombstone: %w", err)
	}

	wr.state = StateTombstoned
	return nil
}

// State reports the file's current lifecycle position.
func (wr *Writer) State() State {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return wr.state
}

// Size reports the number of bytes written so far, header included —
// used by rotation policy to decide when a file has grown enough to
// seal and start a fresh one.
func (wr *Writer) Size() uint64 {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return wr.offset
}

// entriesMerkleRoot builds the Merkle root over entry hashes in
// sequence order; an empty file has the all-zero root.
func entriesMerkleRoot(hashes []hashing.Hash) (hashing.Hash, error) {
	if len(hashes) == 0 {
		return hashing.Hash{}, nil
	}
	tree, err := merkle.BuildTree(hashes)
	if err != nil {
		return hashing.Hash{}, fmt.Errorf("zjl: building entries tree: %w", err)
	}
	return tree.Root(), nil
}
