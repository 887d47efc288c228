package vectorstore

import (
	"context"
	"fmt"

	"github.com/kurosawa/tansaku/internal/models"
)

// Persister saves and loads index snapshots to durable storage so a restart
// does not require re-embedding unchanged documents.
type Persister interface {
	// Save writes the full snapshot, replacing any previous one.
	Save(ctx context.Context, snap *models.Snapshot) error
	// Load reads the persisted snapshot. A missing snapshot returns
	// (nil, nil); callers must validate compatibility via Store.Restore.
	Load(ctx context.Context) (*models.Snapshot, error)
	// Discard removes the persisted snapshot, used when it is incompatible
	// with the configured backend.
	Discard(ctx context.Context) error
	Close() error
}

// PersisterBackend selects the snapshot persistence implementation.
type PersisterBackend string

const (
	// BackendSQLite persists records in a SQLite database. Default.
	BackendSQLite PersisterBackend = "sqlite"
	// BackendFile persists a single binary snapshot file.
	BackendFile PersisterBackend = "file"
)

// NewPersister creates a persister of the given backend at path.
func NewPersister(backend, path string) (Persister, error) {
	switch PersisterBackend(backend) {
	case BackendSQLite, "":
		return NewSQLitePersister(path)
	case BackendFile:
		return NewFilePersister(path), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend: %s (supported: sqlite, file)", backend)
	}
}
