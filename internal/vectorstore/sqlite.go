package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurosawa/tansaku/internal/models"
)

// SQLitePersister stores index snapshots in a SQLite database: a meta table
// holding the backend identity and a records table holding one row per chunk
// with the vector as a little-endian float32 blob.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister opens or creates the database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLitePersister(dbPath string) (*SQLitePersister, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshot_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		backend_id TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		built_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		chunk_id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		start_token INTEGER NOT NULL,
		end_token INTEGER NOT NULL,
		fingerprint TEXT NOT NULL,
		vector BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_document_id ON records(document_id);
	`
	_, err := db.Exec(schema)
	return err
}

// Save replaces the persisted snapshot with snap in one transaction.
func (p *SQLitePersister) Save(ctx context.Context, snap *models.Snapshot) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (id, backend_id, dimensions, built_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET backend_id=excluded.backend_id,
		 dimensions=excluded.dimensions, built_at=excluded.built_at`,
		snap.BackendID, snap.Dimensions, snap.BuiltAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (chunk_id, document_id, chunk_index, content, start_token, end_token, fingerprint, vector)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range snap.Records {
		if _, err := stmt.ExecContext(ctx,
			rec.ChunkID, rec.DocumentID, rec.ChunkIndex, rec.Content,
			rec.StartToken, rec.EndToken, rec.Fingerprint, vectorToBytes(rec.Vector),
		); err != nil {
			return fmt.Errorf("insert record %s: %w", rec.ChunkID, err)
		}
	}
	return tx.Commit()
}

// Load reads the persisted snapshot. Returns (nil, nil) when nothing has
// been persisted yet.
func (p *SQLitePersister) Load(ctx context.Context) (*models.Snapshot, error) {
	var snap models.Snapshot
	var builtAt int64
	err := p.db.QueryRowContext(ctx,
		`SELECT backend_id, dimensions, built_at FROM snapshot_meta WHERE id = 1`,
	).Scan(&snap.BackendID, &snap.Dimensions, &builtAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	snap.BuiltAt = time.Unix(0, builtAt)

	rows, err := p.db.QueryContext(ctx,
		`SELECT chunk_id, document_id, chunk_index, content, start_token, end_token, fingerprint, vector
		 FROM records ORDER BY document_id, chunk_index`)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.Record
		var blob []byte
		if err := rows.Scan(&rec.ChunkID, &rec.DocumentID, &rec.ChunkIndex, &rec.Content,
			&rec.StartToken, &rec.EndToken, &rec.Fingerprint, &blob); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Vector = bytesToVector(blob)
		snap.Records = append(snap.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return &snap, nil
}

// Discard removes the persisted snapshot entirely.
func (p *SQLitePersister) Discard(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_meta`); err != nil {
		return fmt.Errorf("clear meta: %w", err)
	}
	return tx.Commit()
}

// Close closes the database.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}

// vectorToBytes encodes a vector as little-endian float32 bytes.
func vectorToBytes(v []float32) []byte {
	const size = 4
	out := make([]byte, len(v)*size)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(x))
	}
	return out
}

// bytesToVector decodes little-endian float32 bytes into a vector.
func bytesToVector(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
