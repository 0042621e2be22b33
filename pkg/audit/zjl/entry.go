package zjl

import "github.com/metanode/chaincore/pkg/crypto/hashing"

// WitnessEntry is one append-only audit record: a state-affecting
// action taken by some component, tied to its bytes by EntryHash.
type WitnessEntry struct {
	Sequence  uint64
	TsNs      uint64
	OpType    string
	PID       uint32
	TID       uint32
	Data      []byte
	EntryHash hashing.Hash
}

// entryHashInput mirrors WitnessEntry without the EntryHash field
// itself, matching spec.md's entry_hash = H(WITNESS_ENTRY,
// canonical_cbor(entry_without_hash)).
type entryHashInput struct {
	Sequence uint64
	TsNs     uint64
	OpType   string
	PID      uint32
	TID      uint32
	Data     []byte
}

// NewWitnessEntry builds an entry and computes its hash over every
// field but the hash itself.
func NewWitnessEntry(sequence, tsNs uint64, opType string, pid, tid uint32, data []byte) (WitnessEntry, error) {
	input := entryHashInput{Sequence: sequence, TsNs: tsNs, OpType: opType, PID: pid, TID: tid, Data: data}
	hash, err := hashing.HashValue(hashing.AlgoBlake3, hashing.DomainWitnessEntry, input)
	if err != nil {
		return WitnessEntry{}, err
	}
	return WitnessEntry{
		Sequence:  sequence,
		TsNs:      tsNs,
		OpType:    opType,
		PID:       pid,
		TID:       tid,
		Data:      data,
		EntryHash: hash,
	}, nil
}

// Verify recomputes EntryHash from the entry's other fields and
// reports whether it still matches the stored value: the first of the
// three integrity properties a single-byte edit must break.
func (e WitnessEntry) Verify() bool {
	input := entryHashInput{Sequence: e.Sequence, TsNs: e.TsNs, OpType: e.OpType, PID: e.PID, TID: e.TID, Data: e.Data}
	recomputed, err := hashing.HashValue(hashing.AlgoBlake3, hashing.DomainWitnessEntry, input)
	if err != nil {
		return false
	}
	return recomputed == e.EntryHash
}
