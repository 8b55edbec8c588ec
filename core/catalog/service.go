package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/botify/catalog/core/infra/artifacts"
	"github.com/botify/catalog/core/infra/logging"
	"github.com/botify/catalog/core/infra/metrics"
)

const (
	// DefaultMaxUploadBytes bounds a single archive upload.
	DefaultMaxUploadBytes int64 = 64 << 20

	archiveContentType = "application/zip"
	spoolPattern       = "botify-upload-*.zip"
)

// Service is the catalog core: it ingests archives into records and applies
// aggregate updates. Stores are injected; the service owns no connections.
type Service struct {
	store     Store
	blobs     artifacts.Store
	builder   *Builder
	updater   *Updater
	events    Publisher
	metrics   metrics.CatalogMetrics
	policy    RetryPolicy
	maxUpload int64
	tempDir   string
}

// Option configures a Service.
type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

func WithMetrics(m metrics.CatalogMetrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithMaxUploadBytes sets the upload size limit; non-positive values keep the default.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithTempDir sets where uploads are spooled during validation. Empty uses os.TempDir.
func WithTempDir(dir string) Option {
	return func(s *Service) { s.tempDir = dir }
}

func WithBuilder(b *Builder) Option {
	return func(s *Service) {
		if b != nil {
			s.builder = b
		}
	}
}

// NewService wires the catalog core over a record store and a blob store.
func NewService(store Store, blobs artifacts.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		blobs:     blobs,
		builder:   NewBuilder(),
		events:    NoopPublisher{},
		metrics:   metrics.Noop{},
		policy:    DefaultRetryPolicy(),
		maxUpload: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.updater = NewUpdater(store, s.policy, s.metrics)
	return s
}

// MaxUploadBytes reports the configured upload limit.
func (s *Service) MaxUploadBytes() int64 {
	return s.maxUpload
}

// Submit validates an uploaded archive, stores its bytes and creates its
// record. Either the record is fully created or nothing is visible.
func (s *Service) Submit(ctx context.Context, upload io.Reader, fields Fields) (rec *Record, err error) {
	defer func() { s.metrics.IncSubmission(submissionStatus(err)) }()

	err = s.withSpool(upload, func(f *os.File, size int64) error {
		archive, err := Validate(f, size)
		if err != nil {
			return err
		}
		metadata := Extract(archive)

		content := make([]byte, size)
		if _, err := io.ReadFull(io.NewSectionReader(f, 0, size), content); err != nil {
			return fmt.Errorf("read spooled upload: %w", err)
		}
		ref, err := s.blobs.Put(ctx, content, artifacts.Metadata{
			ContentType: archiveContentType,
			Labels:      map[string]string{"name": orDefault(fields.Name, defaultName)},
		})
		if err != nil {
			return fmt.Errorf("%w: blob put: %v", ErrStoreUnavailable, err)
		}

		built := s.builder.Build(archive, metadata, fields, ref)
		if err := s.store.Create(ctx, built); err != nil {
			s.discardBlob(ctx, ref)
			return storeError(err)
		}
		rec = built
		return nil
	})
	if err != nil {
		logging.Warn("catalog", "submission rejected", "kind", Kind(err), "error", err)
		return nil, err
	}
	logging.Info("catalog", "record created", "id", rec.ID, "name", rec.Name, "file_size", rec.FileSize, "file_count", rec.FileCount)
	s.publish(ctx, NewEvent(EventRecordCreated, rec))
	return rec.Clone(), nil
}

// Inspection is the validation view of an archive that is not published.
type Inspection struct {
	Entries   []string       `json:"entries"`
	FileCount int            `json:"file_count"`
	Size      int64          `json:"size"`
	Manifest  string         `json:"manifest,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

// Inspect validates an archive and extracts its manifest without persisting anything.
func (s *Service) Inspect(_ context.Context, upload io.Reader) (*Inspection, error) {
	var out *Inspection
	err := s.withSpool(upload, func(f *os.File, size int64) error {
		archive, err := Validate(f, size)
		if err != nil {
			return err
		}
		manifest, _ := FindManifest(archive)
		out = &Inspection{
			Entries:   archive.Entries,
			FileCount: archive.FileCount(),
			Size:      archive.Size,
			Manifest:  manifest,
			Metadata:  Extract(archive),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return retryRead(ctx, func() (*Record, error) { return s.store.Get(ctx, id) })
}

// List returns every record, newest first.
func (s *Service) List(ctx context.Context) ([]*Record, error) {
	records, err := retryRead(ctx, func() ([]*Record, error) { return s.store.List(ctx) })
	if err != nil {
		return nil, err
	}
	sortNewestFirst(records)
	return records, nil
}

// Search returns records whose name, description, author or tags contain
// query, case-insensitively, newest first.
func (s *Service) Search(ctx context.Context, query string) ([]*Record, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(records))
	for _, rec := range records {
		if rec.Matches(query) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// RecordDownload counts one download.
func (s *Service) RecordDownload(ctx context.Context, id string) (*Record, error) {
	rec, err := s.updater.RecordDownload(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, NewEvent(EventRecordDownloaded, rec))
	return rec, nil
}

// RecordRating folds one rating into the record's running mean.
func (s *Service) RecordRating(ctx context.Context, id string, rating float64) (*Record, error) {
	rec, err := s.updater.RecordRating(ctx, id, rating)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, NewEvent(EventRecordRated, rec))
	return rec, nil
}

// Download returns the archive bytes and counts the download. The counter
// only moves once the blob has been read.
func (s *Service) Download(ctx context.Context, id string) ([]byte, *Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	content, _, err := s.blobs.Get(ctx, rec.BlobRef)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: blob get %s: %v", ErrStoreUnavailable, rec.BlobRef, err)
	}
	updated, err := s.RecordDownload(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return content, updated, nil
}

// Stats summarizes the whole catalog.
type Stats struct {
	TotalBots      int     `json:"total_bots"`
	TotalDownloads int64   `json:"total_downloads"`
	TotalRatings   int64   `json:"total_ratings"`
	AverageRating  float64 `json:"average_rating"`
}

// Stats aggregates over every record. AverageRating is the mean of all
// submitted ratings across the catalog, 0 when there are none.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	records, err := retryRead(ctx, func() ([]*Record, error) { return s.store.List(ctx) })
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	var ratingSum float64
	for _, rec := range records {
		st.TotalBots++
		st.TotalDownloads += rec.Downloads
		st.TotalRatings += rec.RatingsCount
		ratingSum += rec.Rating * float64(rec.RatingsCount)
	}
	if st.TotalRatings > 0 {
		st.AverageRating = ratingSum / float64(st.TotalRatings)
	}
	return st, nil
}

// withSpool copies upload into a private temp file, enforcing the size limit,
// and removes the file on every exit path.
func (s *Service) withSpool(upload io.Reader, fn func(f *os.File, size int64) error) error {
	if upload == nil {
		return fmt.Errorf("%w: no data", ErrMalformedArchive)
	}
	f, err := os.CreateTemp(s.tempDir, spoolPattern)
	if err != nil {
		return fmt.Errorf("spool upload: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()
	n, err := io.Copy(f, io.LimitReader(upload, s.maxUpload+1))
	if err != nil {
		return fmt.Errorf("spool upload: %w", err)
	}
	if n > s.maxUpload {
		return fmt.Errorf("%w: limit is %d bytes", ErrArchiveTooLarge, s.maxUpload)
	}
	return fn(f, n)
}

func (s *Service) discardBlob(ctx context.Context, ref string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), ref); err != nil {
		logging.Warn("catalog", "orphaned blob", "blob_ref", ref, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, evt Event) {
	if err := s.events.Publish(ctx, evt); err != nil {
		logging.Warn("catalog", "event publish failed", "type", evt.Type, "id", evt.RecordID, "error", err)
	}
}

// retryRead runs a pure read, retrying once when the backend was unavailable.
func retryRead[T any](ctx context.Context, read func() (T, error)) (T, error) {
	out, err := read()
	if err == nil || !errors.Is(err, ErrStoreUnavailable) || ctx.Err() != nil {
		return out, storeError(err)
	}
	out, err = read()
	return out, storeError(err)
}

func submissionStatus(err error) string {
	if err == nil {
		return "ok"
	}
	return Kind(err)
}
