// Package vectorstore provides the in-memory embedding record store and its
// persistence backends.
package vectorstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kurosawa/tansaku/internal/models"
)

var (
	// ErrDimensionMismatch is returned when a vector's dimensionality does
	// not match the store's configured backend.
	ErrDimensionMismatch = errors.New("vectorstore: vector dimension mismatch")
	// ErrSnapshotIncompatible is returned when a persisted snapshot was
	// produced by a different embedding backend or dimensionality. The whole
	// snapshot is unusable and a full rebuild is required.
	ErrSnapshotIncompatible = errors.New("vectorstore: snapshot incompatible with configured backend")
)

// Store holds embedding records in memory, keyed by chunk ID. All mutation
// goes through per-document critical sections: concurrent readers see either
// the fully-old or fully-new chunk set for a document, never a mix. Every
// resident record shares the store's backend ID and dimensionality.
type Store struct {
	backendID  string
	dimensions int

	mu      sync.RWMutex
	records map[string]models.Record
	docs    map[string]*docEntry // document ID -> fingerprint + chunk IDs
	builtAt time.Time
}

type docEntry struct {
	fingerprint string
	chunkIDs    []string
}

// New creates an empty store bound to the given embedding backend identity.
func New(backendID string, dimensions int) (*Store, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	return &Store{
		backendID:  backendID,
		dimensions: dimensions,
		records:    make(map[string]models.Record),
		docs:       make(map[string]*docEntry),
	}, nil
}

// BackendID returns the embedding backend identity the store is bound to.
func (s *Store) BackendID() string { return s.backendID }

// Dimensions returns the vector dimensionality the store accepts.
func (s *Store) Dimensions() int { return s.dimensions }

// Upsert inserts or atomically replaces a single record. Re-upserting the
// same chunk ID with a new vector replaces the old one; no reader observes a
// half-written record.
func (s *Store) Upsert(rec models.Record) error {
	if err := s.validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(rec)
	return nil
}

// ReplaceDocument atomically replaces every chunk of docID with recs, all of
// which must belong to docID and carry the given fingerprint. Passing no
// records removes the document. This is the single critical section used for
// update-in-place.
func (s *Store) ReplaceDocument(docID, fingerprint string, recs []models.Record) error {
	for _, rec := range recs {
		if rec.DocumentID != docID {
			return fmt.Errorf("record %s does not belong to document %s", rec.ChunkID, docID)
		}
		if rec.Fingerprint != fingerprint {
			return fmt.Errorf("record %s carries fingerprint %q, want %q", rec.ChunkID, rec.Fingerprint, fingerprint)
		}
		if err := s.validate(rec); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeDocumentLocked(docID)
	for _, rec := range recs {
		s.insertLocked(rec)
	}
	return nil
}

// RemoveDocument removes every chunk belonging to docID and returns how many
// records were removed. Removing an unknown document is a no-op.
func (s *Store) RemoveDocument(docID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeDocumentLocked(docID)
}

// ReplaceAll atomically replaces the entire contents of the store. This is
// the commit point of a full rebuild: readers see the old index until the
// swap, then the new one.
func (s *Store) ReplaceAll(recs []models.Record) error {
	for _, rec := range recs {
		if err := s.validate(rec); err != nil {
			return err
		}
	}
	records := make(map[string]models.Record, len(recs))
	docs := make(map[string]*docEntry)
	for _, rec := range recs {
		records[rec.ChunkID] = rec
		e := docs[rec.DocumentID]
		if e == nil {
			e = &docEntry{fingerprint: rec.Fingerprint}
			docs[rec.DocumentID] = e
		}
		e.chunkIDs = append(e.chunkIDs, rec.ChunkID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.docs = docs
	s.builtAt = time.Now()
	return nil
}

// DocumentFingerprint returns the fingerprint the stored chunks of docID were
// derived from, and whether the document is present.
func (s *Store) DocumentFingerprint(docID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[docID]
	if !ok {
		return "", false
	}
	return e.fingerprint, true
}

// DocumentIDs returns the IDs of every resident document.
func (s *Store) DocumentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.docs))
	for id := range s.docs {
		out = append(out, id)
	}
	return out
}

// Record returns the record stored under chunkID.
func (s *Store) Record(chunkID string) (models.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[chunkID]
	return rec, ok
}

// DocumentRecords returns copies of the records stored for docID, in chunk
// index order.
func (s *Store) DocumentRecords(docID string) []models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[docID]
	if !ok {
		return nil
	}
	out := make([]models.Record, 0, len(e.chunkIDs))
	for _, id := range e.chunkIDs {
		out = append(out, s.records[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

// Records returns a copy of every resident record. The copy is safe to scan
// without holding the store's lock; concurrent mutation does not affect it.
func (s *Store) Records() []models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

// Snapshot returns the persistable form of the store.
func (s *Store) Snapshot() *models.Snapshot {
	s.mu.RLock()
	builtAt := s.builtAt
	s.mu.RUnlock()
	return &models.Snapshot{
		BackendID:  s.backendID,
		Dimensions: s.dimensions,
		BuiltAt:    builtAt,
		Records:    s.Records(),
	}
}

// Restore replaces the store contents from a persisted snapshot after
// validating that it was produced by the same backend and dimensionality.
// An incompatible snapshot returns ErrSnapshotIncompatible and leaves the
// store unchanged; the caller must discard the snapshot and rebuild.
func (s *Store) Restore(snap *models.Snapshot) error {
	if snap.BackendID != s.backendID || snap.Dimensions != s.dimensions {
		return fmt.Errorf("%w: snapshot is %s/%d, store is %s/%d",
			ErrSnapshotIncompatible, snap.BackendID, snap.Dimensions, s.backendID, s.dimensions)
	}
	if err := s.ReplaceAll(snap.Records); err != nil {
		return err
	}
	s.mu.Lock()
	s.builtAt = snap.BuiltAt
	s.mu.Unlock()
	return nil
}

// Stats returns chunk and document counts.
func (s *Store) Stats() models.IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.IndexStats{
		ChunkCount:    len(s.records),
		DocumentCount: len(s.docs),
		BackendID:     s.backendID,
	}
}

// Len returns the number of resident records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) validate(rec models.Record) error {
	if rec.ChunkID == "" || rec.DocumentID == "" {
		return fmt.Errorf("record is missing chunk or document ID")
	}
	if len(rec.Vector) != s.dimensions {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(rec.Vector), s.dimensions)
	}
	return nil
}

func (s *Store) insertLocked(rec models.Record) {
	old, existed := s.records[rec.ChunkID]
	if existed && old.DocumentID != rec.DocumentID {
		s.detachLocked(old.DocumentID, rec.ChunkID)
		existed = false
	}
	s.records[rec.ChunkID] = rec
	e := s.docs[rec.DocumentID]
	if e == nil {
		e = &docEntry{}
		s.docs[rec.DocumentID] = e
	}
	e.fingerprint = rec.Fingerprint
	if !existed {
		e.chunkIDs = append(e.chunkIDs, rec.ChunkID)
	}
}

func (s *Store) removeDocumentLocked(docID string) int {
	e, ok := s.docs[docID]
	if !ok {
		return 0
	}
	for _, id := range e.chunkIDs {
		delete(s.records, id)
	}
	delete(s.docs, docID)
	return len(e.chunkIDs)
}

func (s *Store) detachLocked(docID, chunkID string) {
	e, ok := s.docs[docID]
	if !ok {
		return
	}
	for i, id := range e.chunkIDs {
		if id == chunkID {
			e.chunkIDs = append(e.chunkIDs[:i], e.chunkIDs[i+1:]...)
			break
		}
	}
	if len(e.chunkIDs) == 0 {
		delete(s.docs, docID)
	}
}
