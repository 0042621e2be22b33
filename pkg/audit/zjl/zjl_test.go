package zjl

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/metanode/chaincore/pkg/crypto/bls"
	"github.com/metanode/chaincore/pkg/merkle"
)

// seekBuffer is a minimal in-memory io.WriteSeeker, standing in for an
// *os.File in tests.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos+len(p) > len(s.buf) {
		grown := make([]byte, s.pos+len(p))
		copy(grown, s.buf)
		s.buf = grown
	}
	n := copy(s.buf[s.pos:], p)
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekEnd:
		base = len(s.buf)
	case io.SeekCurrent:
		base = s.pos
	default:
		return 0, errors.New("seekBuffer: bad whence")
	}
	s.pos = base + int(offset)
	return int64(s.pos), nil
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestWriter(t *testing.T, signKey *bls.PrivateKey) (*Writer, *seekBuffer) {
	t.Helper()
	buf := &seekBuffer{}
	cfg := DefaultWriterConfig()
	cfg.Now = fixedNow(time.Unix(1_700_000_000, 0))
	cfg.SignKey = signKey
	w, err := Create(buf, cfg)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return w, buf
}

func TestOpenRejectsBadMagic(t *testing.T) {
	data := make([]byte, HeaderSize)
	copy(data, "NOPE")
	if _, _, err := Open(data); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("Open() error = %v, want ErrInvalidMagic", err)
	}
}

func TestOpenRejectsShortFile(t *testing.T) {
	if _, _, err := Open(make([]byte, HeaderSize-1)); err == nil {
		t.Fatalf("Open() error = nil, want error for short file")
	}
}

func TestOpenRejectsUnsupportedVersion(t *testing.T) {
	w, buf := newTestWriter(t, nil)
	_ = w
	data := append([]byte(nil), buf.buf...)
	data[4] = 0xFF
	data[5] = 0xFF
	if _, _, err := Open(data); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("Open() error = %v, want ErrUnsupportedVersion", err)
	}
}

func TestAppendRejectedAfterSeal(t *testing.T) {
	w, _ := newTestWriter(t, nil)
	if _, err := w.Append("vm-start", 1, 1, []byte("payload")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := w.Seal(); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := w.Append("vm-start", 1, 1, []byte("late")); !errors.Is(err, ErrFileSealed) {
		t.Fatalf("Append() after seal error = %v, want ErrFileSealed", err)
	}
}

func TestSealIsNotReenterable(t *testing.T) {
	w, _ := newTestWriter(t, nil)
	if err := w.Seal(); err != nil {
		t.Fatalf("first Seal() error = %v", err)
	}
	if err := w.Seal(); !errors.Is(err, ErrAlreadySealed) {
		t.Fatalf("second Seal() error = %v, want ErrAlreadySealed", err)
	}
}

func TestTombstoneRequiresSealedFile(t *testing.T) {
	w, _ := newTestWriter(t, nil)
	if err := w.Tombstone("test"); !errors.Is(err, ErrNotSealed) {
		t.Fatalf("Tombstone() before seal error = %v, want ErrNotSealed", err)
	}
	if err := w.Seal(); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if err := w.Tombstone("retired"); err != nil {
		t.Fatalf("Tombstone() after seal error = %v", err)
	}
	if w.State() != StateTombstoned {
		t.Fatalf("State() = %v, want StateTombstoned", w.State())
	}
}

func TestWriteAppendSealReadRoundTrip(t *testing.T) {
	priv, pub, err := bls.GenerateKeyPairFromSeed(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("GenerateKeyPairFromSeed() error = %v", err)
	}

	w, buf := newTestWriter(t, priv)
	records := []struct {
		opType string
		data   []byte
	}{
		{"vm-start", []byte("vm booted")},
		{"contract-deploy", []byte("contract 0xabc deployed")},
		{"security-event", []byte("unauthorized access attempt")},
	}
	for i, rec := range records {
		entry, err := w.Append(rec.opType, uint32(100+i), uint32(1), rec.data)
		if err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
		if entry.Sequence != uint64(i) {
			t.Fatalf("Append(%d).Sequence = %d, want %d", i, entry.Sequence, i)
		}
	}
	if err := w.Seal(); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	reader, body, err := Open(buf.buf)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !reader.Sealed() {
		t.Fatalf("Sealed() = false, want true")
	}

	entries, err := reader.ExtractEntries(body)
	if err != nil {
		t.Fatalf("ExtractEntries() error = %v", err)
	}
	if len(entries) != len(records) {
		t.Fatalf("ExtractEntries() returned %d entries, want %d", len(entries), len(records))
	}
	for i, rec := range records {
		if entries[i].OpType != rec.opType {
			t.Fatalf("entries[%d].OpType = %q, want %q", i, entries[i].OpType, rec.opType)
		}
		if !bytes.Equal(entries[i].Data, rec.data) {
			t.Fatalf("entries[%d].Data = %q, want %q", i, entries[i].Data, rec.data)
		}
	}

	if err := reader.VerifySeal(body, pub); err != nil {
		t.Fatalf("VerifySeal() error = %v, want nil", err)
	}

	events, err := reader.Export(body)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if len(events) != len(records) {
		t.Fatalf("Export() returned %d events, want %d", len(events), len(records))
	}

	var jsonBuf, textBuf bytes.Buffer
	if err := reader.ExportJSON(&jsonBuf, body); err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}
	if jsonBuf.Len() == 0 {
		t.Fatalf("ExportJSON() wrote no bytes")
	}
	if err := reader.ExportText(&textBuf, body); err != nil {
		t.Fatalf("ExportText() error = %v", err)
	}
	if textBuf.Len() == 0 {
		t.Fatalf("ExportText() wrote no bytes")
	}
}

func TestEntryInclusionProofVerifiesAgainstCentralDirectoryRoot(t *testing.T) {
	w, buf := newTestWriter(t, nil)
	var seqs []uint64
	for i, data := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		entry, err := w.Append("vm-start", uint32(i), 1, data)
		if err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
		seqs = append(seqs, entry.Sequence)
	}
	if err := w.Seal(); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	reader, body, err := Open(buf.buf)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	entries, err := reader.ExtractEntries(body)
	if err != nil {
		t.Fatalf("ExtractEntries() error = %v", err)
	}

	for i, seq := range seqs {
		root, proof, err := reader.EntryInclusionProof(body, seq)
		if err != nil {
			t.Fatalf("EntryInclusionProof(%d): %v", seq, err)
		}
		if !merkle.VerifyProof(entries[i].EntryHash, proof, root) {
			t.Fatalf("VerifyProof failed for sequence %d", seq)
		}
	}

	if _, _, err := reader.EntryInclusionProof(body, 999); err == nil {
		t.Fatal("EntryInclusionProof with unknown sequence succeeded, want error")
	}
}

func TestVerifySealDetectsTamperedPayload(t *testing.T) {
	priv, pub, err := bls.GenerateKeyPairFromSeed(bytes.Repeat([]byte{0x7}, 32))
	if err != nil {
		t.Fatalf("GenerateKeyPairFromSeed() error = %v", err)
	}

	w, buf := newTestWriter(t, priv)
	if _, err := w.Append("vm-start", 1, 1, []byte("original payload bytes")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := w.Seal(); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	tampered := append([]byte(nil), buf.buf...)
	flipped := false
	for i := HeaderSize + 8; i < len(tampered)-4; i++ {
		if tampered[i] != 0 {
			tampered[i] ^= 0xFF
			flipped = true
			break
		}
	}
	if !flipped {
		t.Fatalf("test setup: found no non-zero byte to flip in compressed payload region")
	}

	reader, body, err := Open(tampered)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := reader.VerifySeal(body, pub); err == nil {
		t.Fatalf("VerifySeal() on tampered file error = nil, want a crc or merkle mismatch")
	}
}

func TestSealOfEmptyFileHasZeroRoot(t *testing.T) {
	w, buf := newTestWriter(t, nil)
	if err := w.Seal(); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	reader, body, err := Open(buf.buf)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	entries, err := reader.ExtractEntries(body)
	if err != nil {
		t.Fatalf("ExtractEntries() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("ExtractEntries() = %d entries, want 0", len(entries))
	}
	if err := reader.VerifySeal(body, nil); err != nil {
		t.Fatalf("VerifySeal() on empty sealed file error = %v, want nil", err)
	}
}

func TestVerifySealWithoutSignaturesBlock(t *testing.T) {
	w, buf := newTestWriter(t, nil)
	if _, err := w.Append("vm-start", 1, 1, []byte("payload")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := w.Seal(); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	reader, body, err := Open(buf.buf)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := reader.VerifySeal(body, nil); err != nil {
		t.Fatalf("VerifySeal() error = %v, want nil (no signatures block written)", err)
	}
}
