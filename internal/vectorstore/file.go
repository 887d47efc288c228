package vectorstore

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kurosawa/tansaku/internal/models"
)

// snapshot file format: magic (4), version (4), built-at unix nanos (8),
// backend id (len-prefixed), dimensions (4), record count (4), then per
// record: chunk id, document id, content, fingerprint (each len-prefixed),
// chunk index (4), start token (4), end token (4), vector (dimensions*4).
// All integers little-endian.
const (
	fileMagic   uint32 = 0x54534e50 // "TSNP"
	fileVersion uint32 = 1
)

// FilePersister stores the index snapshot as a single binary file. Saves
// write to a temp file and rename so a crash never leaves a torn snapshot.
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Save writes the snapshot to the configured path.
func (p *FilePersister) Save(ctx context.Context, snap *models.Snapshot) error {
	if p.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := p.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := writeSnapshot(w, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot from the configured path. A missing file returns
// (nil, nil).
func (p *FilePersister) Load(ctx context.Context) (*models.Snapshot, error) {
	if p.path == "" {
		return nil, nil
	}
	f, err := os.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()
	return readSnapshot(bufio.NewReader(f))
}

// Discard removes the snapshot file.
func (p *FilePersister) Discard(ctx context.Context) error {
	if p.path == "" {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

// Close is a no-op for FilePersister.
func (p *FilePersister) Close() error {
	return nil
}

func writeSnapshot(w io.Writer, snap *models.Snapshot) error {
	for _, v := range []uint32{fileMagic, fileVersion} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, snap.BuiltAt.UnixNano()); err != nil {
		return fmt.Errorf("write built-at: %w", err)
	}
	if err := writeString(w, snap.BackendID); err != nil {
		return fmt.Errorf("write backend id: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(snap.Dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(snap.Records))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, rec := range snap.Records {
		for _, s := range []string{rec.ChunkID, rec.DocumentID, rec.Content, rec.Fingerprint} {
			if err := writeString(w, s); err != nil {
				return fmt.Errorf("write record %s: %w", rec.ChunkID, err)
			}
		}
		for _, n := range []uint32{uint32(rec.ChunkIndex), uint32(rec.StartToken), uint32(rec.EndToken)} {
			if err := binary.Write(w, binary.LittleEndian, n); err != nil {
				return fmt.Errorf("write record %s: %w", rec.ChunkID, err)
			}
		}
		if _, err := w.Write(vectorToBytes(rec.Vector)); err != nil {
			return fmt.Errorf("write vector %s: %w", rec.ChunkID, err)
		}
	}
	return nil
}

func readSnapshot(r io.Reader) (*models.Snapshot, error) {
	var magic, version uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != fileMagic {
		return nil, fmt.Errorf("not a snapshot file (magic %#x)", magic)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != fileVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", version)
	}
	var snap models.Snapshot
	var builtAt int64
	if err := binary.Read(r, binary.LittleEndian, &builtAt); err != nil {
		return nil, fmt.Errorf("read built-at: %w", err)
	}
	snap.BuiltAt = time.Unix(0, builtAt)
	backendID, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("read backend id: %w", err)
	}
	snap.BackendID = backendID
	var dims, count uint32
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}
	snap.Dimensions = int(dims)
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	vecBuf := make([]byte, dims*4)
	snap.Records = make([]models.Record, 0, count)
	for i := uint32(0); i < count; i++ {
		var rec models.Record
		for _, dst := range []*string{&rec.ChunkID, &rec.DocumentID, &rec.Content, &rec.Fingerprint} {
			s, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("read record %d: %w", i, err)
			}
			*dst = s
		}
		for _, dst := range []*int{&rec.ChunkIndex, &rec.StartToken, &rec.EndToken} {
			var n uint32
			if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
				return nil, fmt.Errorf("read record %d: %w", i, err)
			}
			*dst = int(n)
		}
		if _, err := io.ReadFull(r, vecBuf); err != nil {
			return nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		rec.Vector = bytesToVector(vecBuf)
		snap.Records = append(snap.Records, rec)
	}
	return &snap, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
