// Package index provides the index manager: the state machine that owns
// building, updating, and querying the semantic index.
package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kurosawa/tansaku/internal/chunker"
	"github.com/kurosawa/tansaku/internal/config"
	"github.com/kurosawa/tansaku/internal/embedding"
	"github.com/kurosawa/tansaku/internal/keyword"
	"github.com/kurosawa/tansaku/internal/models"
	"github.com/kurosawa/tansaku/internal/retriever"
	"github.com/kurosawa/tansaku/internal/vault"
	"github.com/kurosawa/tansaku/internal/vectorstore"
)

// Index lifecycle states.
const (
	StateEmpty    = "empty"
	StateBuilding = "building"
	StateReady    = "ready"
)

// ErrBuildInProgress is returned when a build is requested while one runs.
var ErrBuildInProgress = errors.New("index: build already in progress")

// inflightUpdate tracks a running per-document update. queued marks that
// another notification arrived while it ran; the update loop reruns once
// so the latest content wins without piling up goroutines.
type inflightUpdate struct {
	queued bool
}

// Manager coordinates the vault, embedder, vector store, and keyword index.
// All mutations flow through it; queries read the store directly.
type Manager struct {
	vault     vault.Source
	embedder  embedding.Embedder
	chunker   *chunker.Chunker
	store     *vectorstore.Store
	retriever *retriever.Retriever
	keywords  keyword.Index
	persister vectorstore.Persister
	logger    *zap.Logger

	embedBatchSize int

	mu       sync.Mutex
	building bool
	inflight map[string]*inflightUpdate
	// buildMutations records documents upserted (true) or removed (false)
	// while a build pass runs, so the commit never reverts them. Non-nil
	// only during a build; guarded by mu.
	buildMutations map[string]bool

	// commitMu serializes store mutations: per-document update/remove
	// writes and the build commit. Readers never take it.
	commitMu sync.Mutex

	events chan models.ChangeEvent
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a logger for build and update events.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithKeywordIndex attaches a keyword index maintained alongside the
// vector store. Nil (the default) disables keyword maintenance.
func WithKeywordIndex(idx keyword.Index) Option {
	return func(m *Manager) { m.keywords = idx }
}

// WithPersister attaches snapshot persistence. Nil (the default) keeps the
// index memory-only.
func WithPersister(p vectorstore.Persister) Option {
	return func(m *Manager) { m.persister = p }
}

// NewManager creates a manager over the given vault and embedder.
func NewManager(source vault.Source, embedder embedding.Embedder, cfg *config.IndexConfig, opts ...Option) (*Manager, error) {
	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("create chunker: %w", err)
	}
	store, err := vectorstore.New(embedder.ID(), embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	batchSize := cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	queueSize := cfg.EventQueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	m := &Manager{
		vault:          source,
		embedder:       embedder,
		chunker:        ch,
		store:          store,
		retriever:      retriever.New(store),
		embedBatchSize: batchSize,
		inflight:       make(map[string]*inflightUpdate),
		events:         make(chan models.ChangeEvent, queueSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Store exposes the underlying vector store for read-side collaborators
// (the search engine's chunk lookups).
func (m *Manager) Store() *vectorstore.Store {
	return m.store
}

// State returns the current lifecycle state.
func (m *Manager) State() string {
	m.mu.Lock()
	building := m.building
	m.mu.Unlock()
	if building {
		return StateBuilding
	}
	if m.store.Len() == 0 {
		return StateEmpty
	}
	return StateReady
}

// Stats returns a read-only view of the index.
func (m *Manager) Stats() models.IndexStats {
	stats := m.store.Stats()
	stats.State = m.State()
	return stats
}

// Build enumerates the vault and (re)builds the whole index. Unchanged
// documents keep their stored records unless force is set. Per-document
// failures become skip entries rather than aborting the pass. The new
// record set replaces the old one atomically at the end; until then the
// previous contents remain searchable, and cancellation leaves them
// intact.
func (m *Manager) Build(ctx context.Context, force bool) (*models.BuildResult, error) {
	m.mu.Lock()
	if m.building {
		m.mu.Unlock()
		return nil, ErrBuildInProgress
	}
	m.building = true
	m.buildMutations = make(map[string]bool)
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.building = false
		m.buildMutations = nil
		m.mu.Unlock()
	}()

	start := time.Now()
	buildID := uuid.New().String()
	if m.logger != nil {
		m.logger.Info("index build started",
			zap.String("build_id", buildID), zap.Bool("force", force))
	}

	refs, err := m.vault.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vault: %w", err)
	}

	var (
		built   []builtDoc
		skipped []models.SkippedDocument
	)
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !force {
			if fp, ok := m.store.DocumentFingerprint(ref.ID); ok && fp == ref.Fingerprint {
				built = append(built, builtDoc{
					id:   ref.ID,
					recs: m.store.DocumentRecords(ref.ID),
				})
				continue
			}
		}
		recs, err := m.embedDocument(ctx, ref.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			skipped = append(skipped, models.SkippedDocument{
				DocumentID: ref.ID,
				Reason:     err.Error(),
			})
			if m.logger != nil {
				m.logger.Warn("build skipping document",
					zap.String("doc_id", ref.ID), zap.Error(err))
			}
			continue
		}
		built = append(built, builtDoc{id: ref.ID, recs: recs})
	}

	chunks, docs, err := m.commitBuild(ctx, built)
	if err != nil {
		return nil, err
	}

	result := &models.BuildResult{
		BuildID:          buildID,
		ChunkCount:       chunks,
		DocumentCount:    docs,
		SkippedDocuments: skipped,
		DurationMillis:   time.Since(start).Milliseconds(),
	}
	if m.logger != nil {
		m.logger.Info("index build finished",
			zap.String("build_id", buildID),
			zap.Int("documents", result.DocumentCount),
			zap.Int("chunks", result.ChunkCount),
			zap.Int("skipped", len(skipped)),
			zap.Int64("duration_ms", result.DurationMillis))
	}
	return result, nil
}

// builtDoc is one document's outcome from a build pass, held until the
// commit reconciles it against mutations that landed mid-pass.
type builtDoc struct {
	id   string
	recs []models.Record
}

// commitBuild swaps the built record set in. Documents updated or removed
// while the pass ran are reconciled first: the store's newer per-document
// outcome wins over whatever this pass embedded, so a build never reverts
// a concurrent update.
func (m *Manager) commitBuild(ctx context.Context, built []builtDoc) (chunks, docs int, err error) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.Lock()
	mutations := m.buildMutations
	m.buildMutations = nil
	m.mu.Unlock()

	var final []models.Record
	seen := make(map[string]struct{}, len(built))
	for _, d := range built {
		seen[d.id] = struct{}{}
		if upserted, mutated := mutations[d.id]; mutated {
			if !upserted {
				continue
			}
			if recs := m.store.DocumentRecords(d.id); len(recs) > 0 {
				final = append(final, recs...)
				docs++
			}
			continue
		}
		final = append(final, d.recs...)
		docs++
	}
	// Documents that first appeared through an update mid-pass.
	for id, upserted := range mutations {
		if !upserted {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		if recs := m.store.DocumentRecords(id); len(recs) > 0 {
			final = append(final, recs...)
			docs++
		}
	}

	if err := m.store.ReplaceAll(final); err != nil {
		return 0, 0, fmt.Errorf("commit build: %w", err)
	}
	if err := m.rebuildKeywords(ctx, final); err != nil {
		return 0, 0, err
	}
	if err := m.persist(ctx); err != nil {
		return 0, 0, err
	}
	return len(final), docs, nil
}

// noteBuildMutation marks a document as changed outside the running build
// pass, if one is running.
func (m *Manager) noteBuildMutation(id string, upserted bool) {
	m.mu.Lock()
	if m.buildMutations != nil {
		m.buildMutations[id] = upserted
	}
	m.mu.Unlock()
}

// UpdateDocument re-embeds a single document. At most one update runs per
// document ID; a request arriving while one runs is coalesced into a
// single rerun, so the latest vault content always lands last.
func (m *Manager) UpdateDocument(ctx context.Context, id string) error {
	m.mu.Lock()
	if u, ok := m.inflight[id]; ok {
		u.queued = true
		m.mu.Unlock()
		if m.logger != nil {
			m.logger.Debug("update coalesced", zap.String("doc_id", id))
		}
		return nil
	}
	u := &inflightUpdate{}
	m.inflight[id] = u
	m.mu.Unlock()

	var err error
	for {
		err = m.applyUpdate(ctx, id)

		m.mu.Lock()
		if u.queued {
			u.queued = false
			m.mu.Unlock()
			continue
		}
		delete(m.inflight, id)
		m.mu.Unlock()
		return err
	}
}

// applyUpdate performs one update pass for a document. Any failure leaves
// the previously indexed chunk set untouched.
func (m *Manager) applyUpdate(ctx context.Context, id string) error {
	doc, err := m.vault.Read(ctx, id)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			if m.logger != nil {
				m.logger.Debug("document vanished, removing", zap.String("doc_id", id))
			}
			return m.RemoveDocument(ctx, id)
		}
		return fmt.Errorf("read document: %w", err)
	}

	if fp, ok := m.store.DocumentFingerprint(id); ok && fp == doc.Fingerprint {
		if m.logger != nil {
			m.logger.Debug("document unchanged, skipping", zap.String("doc_id", id))
		}
		return nil
	}

	recs, err := m.embedContent(ctx, doc)
	if err != nil {
		return err
	}

	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	if err := m.store.ReplaceDocument(id, doc.Fingerprint, recs); err != nil {
		return fmt.Errorf("replace document: %w", err)
	}
	m.noteBuildMutation(id, true)
	if m.keywords != nil {
		if err := m.keywords.DeleteDocument(ctx, id); err != nil {
			return fmt.Errorf("keyword delete: %w", err)
		}
		if err := m.keywords.IndexChunks(ctx, recs); err != nil {
			return fmt.Errorf("keyword index: %w", err)
		}
	}
	if err := m.persist(ctx); err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Info("document updated",
			zap.String("doc_id", id), zap.Int("chunks", len(recs)))
	}
	return nil
}

// RemoveDocument removes a document's chunks everywhere. Removing an ID
// that was never indexed is a no-op.
func (m *Manager) RemoveDocument(ctx context.Context, id string) error {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.noteBuildMutation(id, false)
	removed := m.store.RemoveDocument(id)
	if m.keywords != nil {
		if err := m.keywords.DeleteDocument(ctx, id); err != nil {
			return fmt.Errorf("keyword delete: %w", err)
		}
	}
	if removed == 0 {
		return nil
	}
	if err := m.persist(ctx); err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Info("document removed",
			zap.String("doc_id", id), zap.Int("chunks", removed))
	}
	return nil
}

// Search embeds the query text and returns the top-k chunks by cosine
// similarity against the current store contents.
func (m *Manager) Search(ctx context.Context, queryText string, k int) ([]models.ScoredChunk, error) {
	vec, err := m.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return m.retriever.TopK(ctx, vec, k)
}

// Notify enqueues a change event for the Run loop. When the queue is full
// the event is dropped with a warning; a later build pass reconciles.
func (m *Manager) Notify(ev models.ChangeEvent) {
	select {
	case m.events <- ev:
	default:
		if m.logger != nil {
			m.logger.Warn("event queue full, dropping event",
				zap.String("type", string(ev.Type)),
				zap.String("doc_id", ev.DocumentID))
		}
	}
}

// Run consumes change events until ctx is cancelled. Event handling errors
// are logged and do not stop the loop.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.events:
			var err error
			switch ev.Type {
			case models.EventUpsert:
				err = m.UpdateDocument(ctx, ev.DocumentID)
			case models.EventDelete:
				err = m.RemoveDocument(ctx, ev.DocumentID)
			default:
				err = fmt.Errorf("unknown event type %q", ev.Type)
			}
			if err != nil && m.logger != nil {
				m.logger.Error("event handling failed",
					zap.String("type", string(ev.Type)),
					zap.String("doc_id", ev.DocumentID),
					zap.Error(err))
			}
		}
	}
}

// LoadSnapshot restores persisted records at startup. A snapshot from a
// different backend or dimensionality is discarded wholesale. Restored
// documents whose fingerprint no longer matches the live vault are dropped
// and left for the next build or update pass.
func (m *Manager) LoadSnapshot(ctx context.Context) error {
	if m.persister == nil {
		return nil
	}
	snap, err := m.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}
	if err := m.store.Restore(snap); err != nil {
		if errors.Is(err, vectorstore.ErrSnapshotIncompatible) {
			if m.logger != nil {
				m.logger.Warn("discarding incompatible snapshot",
					zap.String("snapshot_backend", snap.BackendID),
					zap.Int("snapshot_dimensions", snap.Dimensions),
					zap.String("backend", m.embedder.ID()),
					zap.Int("dimensions", m.embedder.Dimensions()))
			}
			if derr := m.persister.Discard(ctx); derr != nil {
				return fmt.Errorf("discard snapshot: %w", derr)
			}
			return nil
		}
		return fmt.Errorf("restore snapshot: %w", err)
	}

	m.dropStaleDocuments(ctx)

	if err := m.rebuildKeywords(ctx, m.store.Records()); err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Info("snapshot restored",
			zap.Int("chunks", m.store.Len()),
			zap.Time("built_at", snap.BuiltAt))
	}
	return nil
}

// dropStaleDocuments removes restored documents that are gone from the
// vault or changed since the snapshot. Vault enumeration failure keeps the
// snapshot as-is; it only means validation is deferred.
func (m *Manager) dropStaleDocuments(ctx context.Context) {
	refs, err := m.vault.List(ctx)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("vault enumeration failed, keeping snapshot unvalidated", zap.Error(err))
		}
		return
	}
	live := make(map[string]string, len(refs))
	for _, ref := range refs {
		live[ref.ID] = ref.Fingerprint
	}
	for _, id := range m.store.DocumentIDs() {
		fp, _ := m.store.DocumentFingerprint(id)
		if liveFP, ok := live[id]; !ok || liveFP != fp {
			m.store.RemoveDocument(id)
			if m.logger != nil {
				m.logger.Debug("dropped stale snapshot document", zap.String("doc_id", id))
			}
		}
	}
}

// embedDocument reads and embeds one vault document.
func (m *Manager) embedDocument(ctx context.Context, id string) ([]models.Record, error) {
	doc, err := m.vault.Read(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return m.embedContent(ctx, doc)
}

// embedContent chunks the document and embeds the chunks in bounded
// batches, producing the records that represent it in the store.
func (m *Manager) embedContent(ctx context.Context, doc *models.Document) ([]models.Record, error) {
	chunks := m.chunker.Split(doc.ID, doc.Content)
	if len(chunks) == 0 {
		return nil, nil
	}
	records := make([]models.Record, 0, len(chunks))
	for start := 0; start < len(chunks); start += m.embedBatchSize {
		end := start + m.embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Content
		}
		vectors, err := m.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		for i, ch := range batch {
			records = append(records, models.Record{
				ChunkID:     ch.ID(),
				DocumentID:  ch.DocumentID,
				ChunkIndex:  ch.Index,
				Content:     ch.Content,
				StartToken:  ch.StartToken,
				EndToken:    ch.EndToken,
				Fingerprint: doc.Fingerprint,
				Vector:      vectors[i],
			})
		}
	}
	return records, nil
}

// rebuildKeywords resets the keyword index to mirror recs.
func (m *Manager) rebuildKeywords(ctx context.Context, recs []models.Record) error {
	if m.keywords == nil {
		return nil
	}
	if err := m.keywords.Reset(ctx); err != nil {
		return fmt.Errorf("keyword reset: %w", err)
	}
	if err := m.keywords.IndexChunks(ctx, recs); err != nil {
		return fmt.Errorf("keyword index: %w", err)
	}
	return nil
}

// persist saves the current store snapshot when persistence is configured.
func (m *Manager) persist(ctx context.Context) error {
	if m.persister == nil {
		return nil
	}
	if err := m.persister.Save(ctx, m.store.Snapshot()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
