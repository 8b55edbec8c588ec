package catalog

import (
	"maps"
	"slices"
	"strings"
	"time"
)

const (
	// MinRating and MaxRating bound a single submitted rating.
	MinRating = 1.0
	MaxRating = 5.0
)

// Record is one published bot plus its derived statistics.
type Record struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Author       string         `json:"author"`
	Owner        string         `json:"owner,omitempty"`
	Tags         []string       `json:"tags"`
	BlobRef      string         `json:"blob_ref"`
	FileSize     int64          `json:"file_size"`
	FileCount    int            `json:"file_count"`
	Metadata     map[string]any `json:"metadata"`
	Downloads    int64          `json:"downloads"`
	Rating       float64        `json:"rating"`
	RatingsCount int64          `json:"ratings_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	// Version is the optimistic concurrency token; every successful write increments it.
	Version int64 `json:"version"`
}

// Clone returns a copy that shares no mutable state with r.
// Metadata values are never mutated after creation so the map is copied shallowly.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Tags = slices.Clone(r.Tags)
	if out.Tags == nil {
		out.Tags = []string{}
	}
	out.Metadata = maps.Clone(r.Metadata)
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return &out
}

// HasTag reports whether tag is in the record's tag set.
func (r *Record) HasTag(tag string) bool {
	_, found := slices.BinarySearch(r.Tags, tag)
	return found
}

// Matches reports whether query is a case-insensitive substring of the record's
// name, description, author or space-joined tags. An empty query matches everything.
func (r *Record) Matches(query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	for _, field := range []string{r.Name, r.Description, r.Author, strings.Join(r.Tags, " ")} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

// sortNewestFirst orders records by creation time descending, breaking ties by id.
func sortNewestFirst(records []*Record) {
	slices.SortFunc(records, func(a, b *Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
}
