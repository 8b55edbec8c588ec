package catalog

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Archive is a structurally validated zip upload. Entries keeps central
// directory order and includes directory entries, matching what a client
// listing the archive would see.
type Archive struct {
	Entries []string
	Size    int64

	files map[string]*zip.File
}

// FileCount is the number of entries captured at validation time.
func (a *Archive) FileCount() int {
	return len(a.Entries)
}

// Has reports whether the archive contains an entry with the exact name.
func (a *Archive) Has(name string) bool {
	_, ok := a.files[name]
	return ok
}

// Open returns a reader for the named entry.
func (a *Archive) Open(name string) (io.ReadCloser, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("archive entry %q: %w", name, ErrNotFound)
	}
	return f.Open()
}

// wrapperDir returns the single top-level directory every entry lives under,
// or "" when entries sit at the archive root or under several roots.
func (a *Archive) wrapperDir() string {
	root := ""
	for _, name := range a.Entries {
		head, _, nested := strings.Cut(name, "/")
		if !nested || head == "" {
			return ""
		}
		if root == "" {
			root = head
		} else if head != root {
			return ""
		}
	}
	return root
}

// Validate parses r as a zip container of the given size. It fails with
// ErrMalformedArchive when the central directory cannot be read and with
// ErrEmptyArchive when it lists no entries. Nothing is written anywhere.
func Validate(r io.ReaderAt, size int64) (*Archive, error) {
	if r == nil || size <= 0 {
		return nil, fmt.Errorf("%w: no data", ErrMalformedArchive)
	}
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}
	if len(zr.File) == 0 {
		return nil, ErrEmptyArchive
	}
	a := &Archive{
		Entries: make([]string, 0, len(zr.File)),
		Size:    size,
		files:   make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		a.Entries = append(a.Entries, f.Name)
		if _, dup := a.files[f.Name]; !dup {
			a.files[f.Name] = f
		}
	}
	return a, nil
}

// ValidateBytes is Validate over an in-memory upload.
func ValidateBytes(data []byte) (*Archive, error) {
	return Validate(bytes.NewReader(data), int64(len(data)))
}
