package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

const (
	gcsScheme       = "gs"
	gcsWriteTimeout = 2 * time.Minute
	gcsReadTimeout  = time.Minute
	gcsMetaSHA256   = "sha256"
	gcsMetaSize     = "size_bytes"
	gcsLabelPrefix  = "label-"
)

// GCSStore keeps blobs as objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	owned  bool
}

// NewGCSStore opens a storage client and binds it to bucket. Objects are
// written under prefix.
func NewGCSStore(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, append(opts, option.WithScopes(storage.ScopeReadWrite))...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	s, err := NewGCSStoreWithClient(client, bucket, prefix)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewGCSStoreWithClient binds an existing client; the caller owns its lifecycle.
func NewGCSStoreWithClient(client *storage.Client, bucket, prefix string) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("gcs artifact store: nil client")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("gcs artifact store: empty bucket")
	}
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// GCSClientOptionsFromEnv resolves credentials from GOOGLE_APPLICATION_CREDENTIALS_JSON
// or GOOGLE_APPLICATION_CREDENTIALS. An emulator endpoint disables authentication.
func GCSClientOptionsFromEnv(emulatorHost string) []option.ClientOption {
	if host := strings.TrimRight(strings.TrimSpace(emulatorHost), "/"); host != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", host)
		return []option.ClientOption{option.WithoutAuthentication()}
	}
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

// Close releases the client when this store created it.
func (s *GCSStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *GCSStore) Put(ctx context.Context, content []byte, meta Metadata) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gcsWriteTimeout)
	defer cancel()

	key := path.Join(s.prefix, uuid.NewString()+".zip")
	meta = withDigest(content, meta)

	// DoesNotExist keeps blobs write-once.
	obj := s.client.Bucket(s.bucket).Object(key).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = meta.ContentType
	w.Metadata = gcsObjectMetadata(meta)
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return "", unavailable("gcs write", err)
	}
	if err := w.Close(); err != nil {
		return "", unavailable("gcs close writer", err)
	}
	return pointerFor(gcsScheme, s.bucket+"/"+key), nil
}

func (s *GCSStore) Get(ctx context.Context, ptr string) ([]byte, Metadata, error) {
	key, err := s.objectKey(ptr)
	if err != nil {
		return nil, Metadata{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsReadTimeout)
	defer cancel()

	obj := s.client.Bucket(s.bucket).Object(key)
	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, Metadata{}, ErrNotFound
	}
	if err != nil {
		return nil, Metadata{}, unavailable("gcs attrs", err)
	}
	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, Metadata{}, ErrNotFound
	}
	if err != nil {
		return nil, Metadata{}, unavailable("gcs open reader", err)
	}
	defer r.Close()
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, Metadata{}, unavailable("gcs read", err)
	}
	return content, metadataFromGCS(attrs), nil
}

func (s *GCSStore) Delete(ctx context.Context, ptr string) error {
	key, err := s.objectKey(ptr)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsReadTimeout)
	defer cancel()
	err = s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return unavailable("gcs delete", err)
	}
	return nil
}

// objectKey resolves gs://<bucket>/<key> pointers belonging to this store's bucket.
func (s *GCSStore) objectKey(ptr string) (string, error) {
	return gcsObjectKey(s.bucket, ptr)
}

func gcsObjectKey(bucket, ptr string) (string, error) {
	rest, err := keyFromPointer(gcsScheme, ptr)
	if err != nil {
		return "", err
	}
	gotBucket, key, ok := strings.Cut(rest, "/")
	if !ok || gotBucket != bucket || key == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPointer, ptr)
	}
	return key, nil
}

func gcsObjectMetadata(meta Metadata) map[string]string {
	out := map[string]string{
		gcsMetaSHA256: meta.SHA256,
		gcsMetaSize:   strconv.FormatInt(meta.SizeBytes, 10),
	}
	for k, v := range meta.Labels {
		out[gcsLabelPrefix+k] = v
	}
	return out
}

func metadataFromGCS(attrs *storage.ObjectAttrs) Metadata {
	meta := Metadata{
		ContentType: attrs.ContentType,
		SizeBytes:   attrs.Size,
		SHA256:      attrs.Metadata[gcsMetaSHA256],
	}
	for k, v := range attrs.Metadata {
		if label, ok := strings.CutPrefix(k, gcsLabelPrefix); ok {
			if meta.Labels == nil {
				meta.Labels = map[string]string{}
			}
			meta.Labels[label] = v
		}
	}
	return meta
}
