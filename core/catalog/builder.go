package catalog

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	idPrefix = "bot_"

	defaultName        = "Unnamed Bot"
	defaultDescription = "No description"
	defaultAuthor      = "Anonymous"
)

// Fields are the caller-supplied descriptive fields of a submission.
type Fields struct {
	Name        string
	Description string
	Author      string
	// Tags is the raw comma separated tag input.
	Tags  string
	Owner string
}

// Builder turns a validated archive into a new catalog record. It never talks
// to a store; the caller persists what it returns.
type Builder struct {
	now   func() time.Time
	newID func() string
}

// NewBuilder returns a Builder using the wall clock and UUIDv7 ids.
func NewBuilder() *Builder {
	return &Builder{now: func() time.Time { return time.Now().UTC() }, newID: NewID}
}

// NewID returns a fresh record id. UUIDv7 carries a millisecond timestamp plus
// a monotonic in-process sequence and random bits, so ids minted in the same
// clock tick still differ.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return idPrefix + id.String()
}

// Build assembles a record with zeroed aggregates and fresh timestamps.
func (b *Builder) Build(a *Archive, metadata map[string]any, fields Fields, blobRef string) *Record {
	now := b.now()
	if metadata == nil {
		metadata = map[string]any{}
	}
	rec := &Record{
		ID:          b.newID(),
		Name:        orDefault(fields.Name, defaultName),
		Description: orDefault(fields.Description, defaultDescription),
		Author:      orDefault(fields.Author, defaultAuthor),
		Owner:       strings.TrimSpace(fields.Owner),
		Tags:        ParseTags(fields.Tags),
		BlobRef:     blobRef,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if a != nil {
		rec.FileSize = a.Size
		rec.FileCount = a.FileCount()
	}
	return rec
}

// ParseTags splits comma separated input into a sorted set of trimmed,
// non-empty tags.
func ParseTags(raw string) []string {
	tags := []string{}
	for _, part := range strings.Split(raw, ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	slices.Sort(tags)
	return slices.Compact(tags)
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
