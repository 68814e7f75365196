package corpus

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidPath is returned for relative paths that escape the media root.
var ErrInvalidPath = errors.New("invalid corpus path")

// BlobStore keeps report images on local disk under a media root. Stored
// paths are slash-separated and relative to that root.
type BlobStore struct {
	root string
	dir  string
}

// NewBlobStore creates the upload directory under root if needed.
func NewBlobStore(root, dir string) (*BlobStore, error) {
	if dir == "" {
		dir = "photo_lost"
	}
	if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0o755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	return &BlobStore{root: root, dir: dir}, nil
}

// Save writes data under a fresh name with the given extension and returns its relative path.
func (b *BlobStore) Save(ext string, data []byte) (string, error) {
	rel := path.Join(b.dir, uuid.NewString()+strings.ToLower(ext))
	full := filepath.Join(b.root, filepath.FromSlash(rel))

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close image: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", fmt.Errorf("publish image: %w", err)
	}
	return rel, nil
}

// Read returns the bytes at rel. Missing files wrap fs.ErrNotExist.
func (b *BlobStore) Read(rel string) ([]byte, error) {
	full, err := b.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// Remove deletes the file at rel; a missing file is not an error.
func (b *BlobStore) Remove(rel string) error {
	full, err := b.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (b *BlobStore) resolve(rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if rel == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(b.root, local), nil
}
