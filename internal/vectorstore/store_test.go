package vectorstore

import (
	"errors"
	"sync"
	"testing"

	"github.com/kurosawa/tansaku/internal/models"
)

func rec(docID string, idx int, fp string, vec ...float32) models.Record {
	return models.Record{
		ChunkID:     models.ChunkID(docID, idx),
		DocumentID:  docID,
		ChunkIndex:  idx,
		Content:     "chunk",
		Fingerprint: fp,
		Vector:      vec,
	}
}

func TestStore_UpsertAndStats(t *testing.T) {
	s, err := New("mock", 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(rec("a", 0, "f1", 1, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(rec("a", 1, "f1", 0, 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(rec("b", 0, "f9", 1, 1)); err != nil {
		t.Fatal(err)
	}
	st := s.Stats()
	if st.ChunkCount != 3 || st.DocumentCount != 2 {
		t.Errorf("stats = %+v", st)
	}
	// Re-upserting the same chunk ID replaces, not duplicates.
	if err := s.Upsert(rec("a", 0, "f1", 0.5, 0.5)); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 3 {
		t.Errorf("Len=%d after replace", s.Len())
	}
}

func TestStore_DimensionValidation(t *testing.T) {
	s, _ := New("mock", 3)
	err := s.Upsert(rec("a", 0, "f1", 1, 0))
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestStore_ReplaceDocument(t *testing.T) {
	s, _ := New("mock", 2)
	_ = s.Upsert(rec("a", 0, "f1", 1, 0))
	_ = s.Upsert(rec("a", 1, "f1", 0, 1))
	_ = s.Upsert(rec("a", 2, "f1", 1, 1))

	// New fingerprint has fewer chunks; stale chunk 2 must not survive.
	err := s.ReplaceDocument("a", "f2", []models.Record{
		rec("a", 0, "f2", 0, 1),
		rec("a", 1, "f2", 1, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	recs := s.DocumentRecords("a")
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	for _, r := range recs {
		if r.Fingerprint != "f2" {
			t.Errorf("record %s has fingerprint %s", r.ChunkID, r.Fingerprint)
		}
	}
	fp, ok := s.DocumentFingerprint("a")
	if !ok || fp != "f2" {
		t.Errorf("fingerprint = %s, %v", fp, ok)
	}
}

func TestStore_ReplaceDocumentRejectsForeignRecords(t *testing.T) {
	s, _ := New("mock", 2)
	err := s.ReplaceDocument("a", "f1", []models.Record{rec("b", 0, "f1", 1, 0)})
	if err == nil {
		t.Error("records of another document must be rejected")
	}
	err = s.ReplaceDocument("a", "f1", []models.Record{rec("a", 0, "f2", 1, 0)})
	if err == nil {
		t.Error("records with a different fingerprint must be rejected")
	}
}

func TestStore_RemoveDocument(t *testing.T) {
	s, _ := New("mock", 2)
	_ = s.Upsert(rec("a", 0, "f1", 1, 0))
	if n := s.RemoveDocument("a"); n != 1 {
		t.Errorf("removed %d", n)
	}
	if n := s.RemoveDocument("never-indexed"); n != 0 {
		t.Errorf("removing unknown doc removed %d", n)
	}
	if s.Len() != 0 {
		t.Errorf("Len=%d", s.Len())
	}
}

func TestStore_ReplaceAll(t *testing.T) {
	s, _ := New("mock", 2)
	_ = s.Upsert(rec("old", 0, "f1", 1, 0))
	err := s.ReplaceAll([]models.Record{
		rec("x", 0, "fx", 1, 0),
		rec("y", 0, "fy", 0, 1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.DocumentFingerprint("old"); ok {
		t.Error("old document survived ReplaceAll")
	}
	st := s.Stats()
	if st.ChunkCount != 2 || st.DocumentCount != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestStore_Restore(t *testing.T) {
	s, _ := New("mock", 2)
	snap := &models.Snapshot{
		BackendID:  "other-backend",
		Dimensions: 2,
		Records:    []models.Record{rec("a", 0, "f1", 1, 0)},
	}
	if err := s.Restore(snap); !errors.Is(err, ErrSnapshotIncompatible) {
		t.Errorf("expected ErrSnapshotIncompatible, got %v", err)
	}
	snap.BackendID = "mock"
	snap.Dimensions = 3
	if err := s.Restore(snap); !errors.Is(err, ErrSnapshotIncompatible) {
		t.Errorf("expected ErrSnapshotIncompatible for dims, got %v", err)
	}
	snap.Dimensions = 2
	if err := s.Restore(snap); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Errorf("Len=%d", s.Len())
	}
}

// Readers running during per-document replacement must always see either
// the complete old set or the complete new set for that document.
func TestStore_ConcurrentReplaceAndRead(t *testing.T) {
	s, _ := New("mock", 1)
	_ = s.ReplaceDocument("a", "f0", []models.Record{
		rec("a", 0, "f0", 0),
		rec("a", 1, "f0", 0),
	})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			fp := "f0"
			if i%2 == 1 {
				fp = "f1"
			}
			_ = s.ReplaceDocument("a", fp, []models.Record{
				rec("a", 0, fp, float32(i)),
				rec("a", 1, fp, float32(i)),
			})
		}
	}()
	for i := 0; i < 1000; i++ {
		recs := s.DocumentRecords("a")
		if len(recs) != 2 {
			t.Fatalf("observed torn document: %d records", len(recs))
		}
		if recs[0].Fingerprint != recs[1].Fingerprint {
			t.Fatalf("observed mixed fingerprints: %s vs %s", recs[0].Fingerprint, recs[1].Fingerprint)
		}
	}
	close(done)
	wg.Wait()
}
