package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/botify/catalog/core/catalog"
	"github.com/redis/go-redis/v9"
)

// Keys share the {catalog} hash tag so WATCH/MULTI spans stay in one cluster slot.
const (
	recordKeyPrefix = "botify:{catalog}:record:"
	recordIndexKey  = "botify:{catalog}:records"
	listBatchSize   = 256
)

// RedisStore implements catalog.Store on Redis. Each record is one JSON value;
// a sorted set scored by creation time indexes every id. Compare-and-swap uses
// WATCH on the record key plus a version check inside the transaction.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client; the caller owns its lifecycle.
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis record store: nil client")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*catalog.Record, error) {
	data, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return decodeRecord(data)
}

func (s *RedisStore) Create(ctx context.Context, rec *catalog.Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record id required", catalog.ErrStoreUnavailable)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	key := recordKey(rec.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return catalog.ErrAlreadyExists
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, payload, 0)
		pipe.ZAdd(ctx, recordIndexKey, redis.Z{Score: float64(rec.CreatedAt.UnixMicro()), Member: rec.ID})
		_, err = pipe.Exec(ctx)
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, catalog.ErrAlreadyExists), errors.Is(err, redis.TxFailedErr):
		return catalog.ErrAlreadyExists
	default:
		return unavailable("create", err)
	}
}

func (s *RedisStore) List(ctx context.Context) ([]*catalog.Record, error) {
	ids, err := s.client.ZRevRange(ctx, recordIndexKey, 0, -1).Result()
	if err != nil {
		return nil, unavailable("list index", err)
	}
	out := make([]*catalog.Record, 0, len(ids))
	for start := 0; start < len(ids); start += listBatchSize {
		end := min(start+listBatchSize, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, recordKey(id))
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, unavailable("list records", err)
		}
		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			rec, err := decodeRecord([]byte(raw))
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, rec *catalog.Record, expected int64) error {
	if rec == nil || rec.ID == "" {
		return catalog.ErrNotFound
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	key := recordKey(rec.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return catalog.ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := decodeRecord(data)
		if err != nil {
			return err
		}
		if current.Version != expected {
			return catalog.ErrConflict
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, payload, 0)
		_, err = pipe.Exec(ctx)
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, catalog.ErrConflict):
		return catalog.ErrConflict
	case errors.Is(err, catalog.ErrNotFound):
		return catalog.ErrNotFound
	case errors.Is(err, catalog.ErrStoreUnavailable):
		return err
	default:
		return unavailable("compare-and-swap", err)
	}
}

func recordKey(id string) string {
	return recordKeyPrefix + id
}

func decodeRecord(data []byte) (*catalog.Record, error) {
	var rec catalog.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode record: %v", catalog.ErrStoreUnavailable, err)
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	return &rec, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", catalog.ErrStoreUnavailable, op, err)
}
