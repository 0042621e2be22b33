// Package header implements the block-header schema, its canonical
// hash, and chain-continuity validation shared by every height the
// consensus state machine finalizes.
package header

import (
	"github.com/metanode/chaincore/pkg/crypto/hashing"
)

// ConsensusMode tags which consensus algorithm produced a header. IBFT
// is the only mode this lineage implements; the field stays a string
// enum so a future mode is a data change, not a wire-format break.
type ConsensusMode string

const ConsensusModeIBFT ConsensusMode = "IBFT"

// Header is the canonical block header. Field order here follows the
// header schema; HashOf encodes with canonical CBOR, which sorts map
// keys, so declaration order does not affect the hash.
type Header struct {
	Version          uint16          `cbor:"version"`
	Height           uint64          `cbor:"height"`
	PrevHash         hashing.Hash    `cbor:"prev_hash"`
	PohRoot          hashing.Hash    `cbor:"poh_root"`
	ReceiptsRoot     hashing.Hash    `cbor:"receipts_root"`
	DaRoot           hashing.Hash    `cbor:"da_root"`
	XcmpRoot         hashing.Hash    `cbor:"xcmp_root"`
	ValidatorSetHash hashing.Hash    `cbor:"validator_set_hash"`
	ConsensusMode    ConsensusMode   `cbor:"consensus_mode"`
	Round            uint64          `cbor:"round"`
	Timestamp        int64           `cbor:"timestamp"`
}

// Config carries the fields a proposer fills in when building a new,
// non-genesis header. New copies Timestamp from cfg as given and never
// reads the clock, so tests can pin it deterministically.
type Config struct {
	Version          uint16
	Height           uint64
	PrevHash         hashing.Hash
	PohRoot          hashing.Hash
	ReceiptsRoot     hashing.Hash
	DaRoot           hashing.Hash
	XcmpRoot         hashing.Hash
	ValidatorSetHash hashing.Hash
	Mode             ConsensusMode
	Round            uint64
	Timestamp        int64
}

// New builds a header from cfg. It performs no validation; call
// Validate on the result (or ValidateContinuity against a parent)
// before acting on it.
func New(cfg Config) Header {
	mode := cfg.Mode
	if mode == "" {
		mode = ConsensusModeIBFT
	}
	return Header{
		Version:          cfg.Version,
		Height:           cfg.Height,
		PrevHash:         cfg.PrevHash,
		PohRoot:          cfg.PohRoot,
		ReceiptsRoot:     cfg.ReceiptsRoot,
		DaRoot:           cfg.DaRoot,
		XcmpRoot:         cfg.XcmpRoot,
		ValidatorSetHash: cfg.ValidatorSetHash,
		ConsensusMode:    mode,
		Round:            cfg.Round,
		Timestamp:        cfg.Timestamp,
	}
}

// GenesisConfig carries the fields fixed at chain genesis.
type GenesisConfig struct {
	Timestamp        int64
	ValidatorSetHash hashing.Hash
}

// Genesis builds the height-0 header: zero prev_hash, empty body
// roots, the fixed genesis timestamp and validator-set hash.
func Genesis(cfg GenesisConfig) Header {
	return Header{
		Version:          1,
		Height:           0,
		PrevHash:         hashing.Hash{},
		PohRoot:          hashing.Hash{},
		ReceiptsRoot:     hashing.Hash{},
		DaRoot:           hashing.Hash{},
		XcmpRoot:         hashing.Hash{},
		ValidatorSetHash: cfg.ValidatorSetHash,
		ConsensusMode:    ConsensusModeIBFT,
		Round:            0,
		Timestamp:        cfg.Timestamp,
	}
}

// hashInput mirrors Header field-for-field but with Hash values as raw
// bytes, so canonical CBOR encodes a plain struct rather than leaning
// on Hash's own (un-tagged) byte-array representation.
type hashInput struct {
	Version          uint16 `cbor:"version"`
	Height           uint64 `cbor:"height"`
	PrevHash         []byte `cbor:"prev_hash"`
	PohRoot          []byte `cbor:"poh_root"`
	ReceiptsRoot     []byte `cbor:"receipts_root"`
	DaRoot           []byte `cbor:"da_root"`
	XcmpRoot         []byte `cbor:"xcmp_root"`
	ValidatorSetHash []byte `cbor:"validator_set_hash"`
	ConsensusMode    string `cbor:"consensus_mode"`
	Round            uint64 `cbor:"round"`
	Timestamp        int64  `cbor:"timestamp"`
}

// HashOf computes the header's canonical hash:
// H(HEADER, canonical_cbor(header)).
func HashOf(h Header) (hashing.Hash, error) {
	return hashing.HashValue(hashing.AlgoBlake3, hashing.DomainHeader, hashInput{
		Version:          h.Version,
		Height:           h.Height,
		PrevHash:         h.PrevHash.Bytes(),
		PohRoot:          h.PohRoot.Bytes(),
		ReceiptsRoot:     h.ReceiptsRoot.Bytes(),
		DaRoot:           h.DaRoot.Bytes(),
		XcmpRoot:         h.XcmpRoot.Bytes(),
		ValidatorSetHash: h.ValidatorSetHash.Bytes(),
		ConsensusMode:    string(h.ConsensusMode),
		Round:            h.Round,
		Timestamp:        h.Timestamp,
	})
}
