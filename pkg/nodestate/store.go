// Package nodestate persists the crash-consistent state every component
// needs to recover after a restart: the last finalized header, the
// in-flight IBFT round, the PoH tail, and the active ZJL file's sequence
// counter. Storage layout follows the teacher's key-value-with-typed-
// prefix convention; callers supply any KV implementation (the reference
// one, pkg/kvdb, wraps github.com/cometbft/cometbft-db).
package nodestate

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// KV is the minimal key-value contract nodestate needs. Any durable
// store (cometbft-db, boltdb, a test map) can satisfy it.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// Store provides typed accessors over a KV store for the four state
// classes named in the external interfaces contract: finalized height,
// IBFT round state, PoH tail, and ZJL sequence counter.
//
// Single-writer: Store assumes each record class is written by exactly
// one goroutine (the consensus commit thread for FinalizedState and
// IBFTRoundState, the PoH owner for PoHState, the ZJL writer for
// ZJLSequenceState) per the concurrency model's single-writer rule.
// Concurrent writers to the same key must synchronize externally.
type Store struct {
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

var (
	keyFinalized   = []byte("nodestate:finalized")
	keyIBFTRound   = []byte("nodestate:ibft_round")
	keyPoH         = []byte("nodestate:poh")
	keyZJLSeq      = []byte("nodestate:zjl_sequence")
	keyHeaderByHt  = []byte("nodestate:header:")      // + big-endian height -> header hash
	keyCertByHt    = []byte("nodestate:certificate:") // + big-endian height -> CertificateState
	keyCheckpoint  = []byte("nodestate:checkpoint")   // latest emitted checkpoint artifact
)

func headerKey(height uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, height)
	return append(append([]byte{}, keyHeaderByHt...), b...)
}

func certKey(height uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, height)
	return append(append([]byte{}, keyCertByHt...), b...)
}

// FinalizedState is the last header this node has finalized.
type FinalizedState struct {
	Height     uint64    `json:"height"`
	HeaderHash [32]byte  `json:"header_hash"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// SaveFinalized records the newly finalized header and indexes it by
// height for historical lookup.
func (s *Store) SaveFinalized(state FinalizedState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("nodestate: marshal finalized state: %w", err)
	}
	if err := s.kv.Set(keyFinalized, b); err != nil {
		return fmt.Errorf("nodestate: set finalized state: %w", err)
	}
	return s.kv.Set(headerKey(state.Height), state.HeaderHash[:])
}

// LoadFinalized returns the last finalized state, or ErrNotFound on a
// fresh node.
func (s *Store) LoadFinalized() (FinalizedState, error) {
	b, err := s.kv.Get(keyFinalized)
	if err != nil {
		return FinalizedState{}, fmt.Errorf("nodestate: get finalized state: %w", err)
	}
	if len(b) == 0 {
		return FinalizedState{}, ErrNotFound
	}
	var out FinalizedState
	if err := json.Unmarshal(b, &out); err != nil {
		return FinalizedState{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

// HeaderHashAtHeight looks up a previously finalized header's hash.
func (s *Store) HeaderHashAtHeight(height uint64) ([32]byte, error) {
	b, err := s.kv.Get(headerKey(height))
	if err != nil {
		return [32]byte{}, fmt.Errorf("nodestate: get header at height %d: %w", height, err)
	}
	if len(b) != 32 {
		return [32]byte{}, ErrNotFound
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}

// CertificateState is the 2f+1 aggregate commit certificate behind one
// finalized height, persisted alongside FinalizedState when the
// orchestrator finalizes a height.
type CertificateState struct {
	Height     uint64 `json:"height"`
	Round      uint64 `json:"round"`
	HeaderHash [32]byte `json:"header_hash"`
	AggSig     []byte `json:"agg_sig"`
	Bitmap     []byte `json:"bitmap"`
}

// SaveCertificate persists the commit certificate for state.Height,
// indexed for later retrieval by HeaderHashAtHeight's companion,
// LoadCertificate.
func (s *Store) SaveCertificate(state CertificateState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("nodestate: marshal certificate state: %w", err)
	}
	return s.kv.Set(certKey(state.Height), b)
}

// LoadCertificate returns the commit certificate recorded for height,
// or ErrNotFound if none was ever saved.
func (s *Store) LoadCertificate(height uint64) (CertificateState, error) {
	b, err := s.kv.Get(certKey(height))
	if err != nil {
		return CertificateState{}, fmt.Errorf("nodestate: get certificate state at height %d: %w", height, err)
	}
	if len(b) == 0 {
		return CertificateState{}, ErrNotFound
	}
	var out CertificateState
	if err := json.Unmarshal(b, &out); err != nil {
		return CertificateState{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

// CheckpointState is the most recently emitted checkpoint artifact: a
// finalized header's certificate, surfaced at IBFTSettings.
// CheckpointInterval granularity for external anchoring (spec: "the
// finalized header and its certificate are emitted as a checkpoint
// artifact").
type CheckpointState struct {
	Height      uint64    `json:"height"`
	HeaderHash  [32]byte  `json:"header_hash"`
	Certificate CertificateState `json:"certificate"`
	EmittedAt   time.Time `json:"emitted_at"`
}

// SaveCheckpoint records the latest emitted checkpoint artifact.
func (s *Store) SaveCheckpoint(state CheckpointState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("nodestate: marshal checkpoint state: %w", err)
	}
	return s.kv.Set(keyCheckpoint, b)
}

// LoadCheckpoint returns the most recently emitted checkpoint artifact,
// or ErrNotFound if none has been emitted yet.
func (s *Store) LoadCheckpoint() (CheckpointState, error) {
	b, err := s.kv.Get(keyCheckpoint)
	if err != nil {
		return CheckpointState{}, fmt.Errorf("nodestate: get checkpoint state: %w", err)
	}
	if len(b) == 0 {
		return CheckpointState{}, ErrNotFound
	}
	var out CheckpointState
	if err := json.Unmarshal(b, &out); err != nil {
		return CheckpointState{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

// IBFTRoundState is the in-flight consensus position: the height/round
// pair and phase this node was in when it last wrote state.
type IBFTRoundState struct {
	Height uint64 `json:"height"`
	Round  uint64 `json:"round"`
	Phase  string `json:"phase"`
}

func (s *Store) SaveIBFTRound(state IBFTRoundState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("nodestate: marshal ibft round state: %w", err)
	}
	return s.kv.Set(keyIBFTRound, b)
}

func (s *Store) LoadIBFTRound() (IBFTRoundState, error) {
	b, err := s.kv.Get(keyIBFTRound)
	if err != nil {
		return IBFTRoundState{}, fmt.Errorf("nodestate: get ibft round state: %w", err)
	}
	if len(b) == 0 {
		return IBFTRoundState{}, ErrNotFound
	}
	var out IBFTRoundState
	if err := json.Unmarshal(b, &out); err != nil {
		return IBFTRoundState{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

// PoHState is the tail of the Proof-of-History chain: the last tick's
// height and out_hash, loaded on restart to detect gaps.
type PoHState struct {
	Height  uint64   `json:"height"`
	OutHash [32]byte `json:"out_hash"`
}

func (s *Store) SavePoH(state PoHState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("nodestate: marshal poh state: %w", err)
	}
	return s.kv.Set(keyPoH, b)
}

func (s *Store) LoadPoH() (PoHState, error) {
	b, err := s.kv.Get(keyPoH)
	if err != nil {
		return PoHState{}, fmt.Errorf("nodestate: get poh state: %w", err)
	}
	if len(b) == 0 {
		return PoHState{}, ErrNotFound
	}
	var out PoHState
	if err := json.Unmarshal(b, &out); err != nil {
		return PoHState{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

// ZJLSequenceState is the active audit file's identity and the next
// sequence number to assign an appended entry.
type ZJLSequenceState struct {
	FileUUID    string `json:"file_uuid"`
	NextSeqNum  uint64 `json:"next_seq_num"`
}

func (s *Store) SaveZJLSequence(state ZJLSequenceState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("nodestate: marshal zjl sequence state: %w", err)
	}
	return s.kv.Set(keyZJLSeq, b)
}

func (s *Store) LoadZJLSequence() (ZJLSequenceState, error) {
	b, err := s.kv.Get(keyZJLSeq)
	if err != nil {
		return ZJLSequenceState{}, fmt.Errorf("nodestate: get zjl sequence state: %w", err)
	}
	if len(b) == 0 {
		return ZJLSequenceState{}, ErrNotFound
	}
	var out ZJLSequenceState
	if err := json.Unmarshal(b, &out); err != nil {
		return ZJLSequenceState{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}
