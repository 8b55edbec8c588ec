package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates no blob exists for a pointer.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidPointer indicates a pointer this store cannot resolve.
	ErrInvalidPointer = errors.New("invalid artifact pointer")
	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("artifact store unavailable")
)

// Metadata describes stored artifacts.
type Metadata struct {
	ContentType string            `json:"content_type,omitempty"`
	SizeBytes   int64             `json:"size_bytes,omitempty"`
	SHA256      string            `json:"sha256,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Store provides write-once blob storage addressed by opaque pointers.
type Store interface {
	// Put stores content and returns a durable pointer to it.
	Put(ctx context.Context, content []byte, meta Metadata) (string, error)
	// Get returns content and metadata for a pointer, or ErrNotFound.
	Get(ctx context.Context, ptr string) ([]byte, Metadata, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, ptr string) error
}

// Digest returns the hex sha256 of content.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// withDigest fills the size and checksum fields from content.
func withDigest(content []byte, meta Metadata) Metadata {
	meta.SizeBytes = int64(len(content))
	meta.SHA256 = Digest(content)
	return meta
}

func pointerFor(scheme, key string) string {
	return scheme + "://" + key
}

func keyFromPointer(scheme, ptr string) (string, error) {
	prefix := scheme + "://"
	if !strings.HasPrefix(ptr, prefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPointer, ptr)
	}
	key := strings.TrimPrefix(ptr, prefix)
	if key == "" {
		return "", fmt.Errorf("%w: missing key in %q", ErrInvalidPointer, ptr)
	}
	return key, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
