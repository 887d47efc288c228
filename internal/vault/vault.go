// Package vault provides access to the document collection being indexed.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/kurosawa/tansaku/internal/models"
)

// ErrNotFound reports that a document ID no longer resolves to content,
// typically because the file vanished between notification and read.
var ErrNotFound = errors.New("vault: document not found")

// DocumentRef identifies a vault document without its content.
type DocumentRef struct {
	ID          string
	Fingerprint string
}

// Source enumerates and reads vault documents. Implementations must return
// ErrNotFound (possibly wrapped) from Read when the ID does not resolve.
type Source interface {
	// List returns a reference for every readable document in the vault.
	List(ctx context.Context) ([]DocumentRef, error)
	// Read returns the document's extracted content and fingerprint.
	Read(ctx context.Context, id string) (*models.Document, error)
}

// Fingerprint returns the content fingerprint used to detect changed
// documents: hex-encoded SHA-256 of the extracted content.
func Fingerprint(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
