package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const fileScheme = "file"

// FileStore keeps blobs as files under a root directory, sharded by the first
// two characters of the blob id. Each blob has a JSON metadata sidecar.
type FileStore struct {
	root string
}

// NewFileStore creates root if needed.
func NewFileStore(root string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("file artifact store: empty root")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, unavailable("mkdir", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Put(ctx context.Context, content []byte, meta Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	meta = withDigest(content, meta)
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	dir := filepath.Join(s.root, id[:2])
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", unavailable("mkdir", err)
	}
	if err := writeFileAtomic(dir, id+".meta.json", payload); err != nil {
		return "", err
	}
	if err := writeFileAtomic(dir, id+".blob", content); err != nil {
		_ = os.Remove(filepath.Join(dir, id+".meta.json"))
		return "", err
	}
	return pointerFor(fileScheme, id), nil
}

func (s *FileStore) Get(ctx context.Context, ptr string) ([]byte, Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, Metadata{}, err
	}
	blobPath, metaPath, err := s.paths(ptr)
	if err != nil {
		return nil, Metadata{}, err
	}
	content, err := os.ReadFile(blobPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Metadata{}, ErrNotFound
	}
	if err != nil {
		return nil, Metadata{}, unavailable("read blob", err)
	}
	var meta Metadata
	if data, err := os.ReadFile(metaPath); err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	return content, meta, nil
}

func (s *FileStore) Delete(ctx context.Context, ptr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	blobPath, metaPath, err := s.paths(ptr)
	if err != nil {
		return err
	}
	for _, p := range []string{blobPath, metaPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return unavailable("remove blob", err)
		}
	}
	return nil
}

func (s *FileStore) paths(ptr string) (string, string, error) {
	id, err := keyFromPointer(fileScheme, ptr)
	if err != nil {
		return "", "", err
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPointer, ptr)
	}
	dir := filepath.Join(s.root, id[:2])
	return filepath.Join(dir, id+".blob"), filepath.Join(dir, id+".meta.json"), nil
}

// writeFileAtomic writes through a temp file and renames it into place so
// readers never observe a partial blob.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return unavailable("create temp", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return unavailable("write temp", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return unavailable("sync temp", err)
	}
	if err := tmp.Close(); err != nil {
		return unavailable("close temp", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return unavailable("rename", err)
	}
	return nil
}
