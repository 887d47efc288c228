package vault

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kurosawa/tansaku/internal/config"
	"github.com/kurosawa/tansaku/internal/extract"
	"github.com/kurosawa/tansaku/internal/models"
)

// FS is a filesystem vault over one or more watched directories. Document
// IDs are cleaned absolute paths so the same file always maps to the same
// document across scans and notifications.
type FS struct {
	roots      []string
	extensions []string
	recursive  bool
	extractor  *extract.Extractor
	logger     *zap.Logger
}

// FSOption configures an FS vault.
type FSOption func(*FS)

// WithFSLogger sets a logger for debug output.
func WithFSLogger(l *zap.Logger) FSOption {
	return func(v *FS) { v.logger = l }
}

// NewFS creates a filesystem vault from config. Roots are made absolute up
// front; a root that does not exist is an error so misconfiguration is
// caught at startup, not at first scan.
func NewFS(cfg *config.VaultConfig, opts ...FSOption) (*FS, error) {
	if len(cfg.Directories) == 0 {
		return nil, fmt.Errorf("vault has no directories configured")
	}
	roots := make([]string, 0, len(cfg.Directories))
	for _, dir := range cfg.Directories {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("absolute path for %s: %w", dir, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat vault directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("not a directory: %s", abs)
		}
		roots = append(roots, abs)
	}
	v := &FS{
		roots:      roots,
		extensions: cfg.Extensions,
		recursive:  cfg.RecursiveOrDefault(),
		extractor:  extract.NewExtractor(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Roots returns the absolute watched directories.
func (v *FS) Roots() []string {
	return v.roots
}

// Accepts reports whether the path belongs to this vault: under a root and
// carrying an allowed extension.
func (v *FS) Accepts(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if !v.extensionAllowed(filepath.Ext(abs)) {
		return false
	}
	for _, root := range v.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// DocumentID returns the vault document ID for a filesystem path.
func DocumentID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

// List walks the roots and returns a reference per readable document.
// Files that fail to read or extract are skipped with a log entry; one bad
// file must not hide the rest of the vault.
func (v *FS) List(ctx context.Context) ([]DocumentRef, error) {
	var refs []DocumentRef
	for _, root := range v.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if !v.recursive && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if !v.extensionAllowed(filepath.Ext(path)) {
				return nil
			}
			// Resolve symlinks so only regular files are listed.
			info, statErr := os.Stat(path)
			if statErr != nil || !info.Mode().IsRegular() {
				return nil
			}
			doc, readErr := v.readFile(path)
			if readErr != nil {
				if v.logger != nil {
					v.logger.Warn("vault skipping unreadable file",
						zap.String("path", path), zap.Error(readErr))
				}
				return nil
			}
			refs = append(refs, DocumentRef{ID: doc.ID, Fingerprint: doc.Fingerprint})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk vault directory %s: %w", root, err)
		}
	}
	return refs, nil
}

// Read extracts content for the document ID (an absolute path).
func (v *FS) Read(ctx context.Context, id string) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !v.Accepts(id) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	info, err := os.Stat(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return v.readFile(id)
}

func (v *FS) readFile(path string) (*models.Document, error) {
	content, err := v.extractor.Extract(path)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	return &models.Document{
		ID:          DocumentID(path),
		Content:     content,
		Fingerprint: Fingerprint(content),
	}, nil
}

func (v *FS) extensionAllowed(ext string) bool {
	if len(v.extensions) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range v.extensions {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
