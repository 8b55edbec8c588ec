package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisScheme = "redis"

// RedisStore implements artifact storage using Redis. Blobs never expire.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client; the caller owns its lifecycle.
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis artifact store: nil client")
	}
	return &RedisStore{client: client}, nil
}

// Put stores content and metadata, returning an artifact pointer.
func (s *RedisStore) Put(ctx context.Context, content []byte, meta Metadata) (string, error) {
	id := uuid.NewString()
	meta = withDigest(content, meta)
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, artifactKey(id), content, 0)
	pipe.Set(ctx, artifactMetaKey(id), payload, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", unavailable("redis put", err)
	}
	return pointerFor(redisScheme, artifactKey(id)), nil
}

// Get returns artifact content and metadata for a pointer.
func (s *RedisStore) Get(ctx context.Context, ptr string) ([]byte, Metadata, error) {
	id, err := artifactID(ptr)
	if err != nil {
		return nil, Metadata{}, err
	}
	pipe := s.client.Pipeline()
	contentCmd := pipe.Get(ctx, artifactKey(id))
	metaCmd := pipe.Get(ctx, artifactMetaKey(id))
	_, _ = pipe.Exec(ctx)

	content, err := contentCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, Metadata{}, ErrNotFound
	}
	if err != nil {
		return nil, Metadata{}, unavailable("redis get", err)
	}
	var meta Metadata
	if data, err := metaCmd.Bytes(); err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	return content, meta, nil
}

// Delete removes content and metadata for a pointer.
func (s *RedisStore) Delete(ctx context.Context, ptr string) error {
	id, err := artifactID(ptr)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, artifactKey(id), artifactMetaKey(id)).Err(); err != nil {
		return unavailable("redis delete", err)
	}
	return nil
}

func artifactID(ptr string) (string, error) {
	key, err := keyFromPointer(redisScheme, ptr)
	if err != nil {
		return "", err
	}
	id := strings.TrimPrefix(key, "art:")
	if id == "" || id == key {
		return "", fmt.Errorf("%w: %q", ErrInvalidPointer, ptr)
	}
	return id, nil
}

func artifactKey(id string) string {
	return "art:" + id
}

func artifactMetaKey(id string) string {
	return "art:meta:" + id
}
