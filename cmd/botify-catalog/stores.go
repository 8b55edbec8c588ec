package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/botify/catalog/core/catalog"
	"github.com/botify/catalog/core/infra/artifacts"
	"github.com/botify/catalog/core/infra/config"
	"github.com/botify/catalog/core/infra/recordstore"
	"github.com/botify/catalog/core/infra/redisutil"
	"github.com/redis/go-redis/v9"
)

// stores holds the configured backends and everything that must be closed
// when the service stops.
type stores struct {
	records catalog.Store
	blobs   artifacts.Store
	closers []io.Closer
}

func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

func openStores(ctx context.Context, cfg *config.Config) (_ *stores, err error) {
	out := &stores{}
	defer func() {
		if err != nil {
			_ = out.Close()
		}
	}()

	var client redis.UniversalClient
	if cfg.UsesRedis() {
		client, err = redisutil.Connect(ctx, redisutil.Options{
			URL: cfg.RedisURL,
			TLS: redisutil.TLSOptions{
				CAFile:   cfg.RedisTLS.CAFile,
				CertFile: cfg.RedisTLS.CertFile,
				KeyFile:  cfg.RedisTLS.KeyFile,
				Insecure: cfg.RedisTLS.Insecure,
			},
		})
		if err != nil {
			return nil, err
		}
		out.closers = append(out.closers, client)
	}

	switch cfg.CatalogBackend {
	case config.BackendRedis:
		if out.records, err = recordstore.NewRedisStore(client); err != nil {
			return nil, err
		}
	case config.BackendBadger:
		db, err := recordstore.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		out.records = db
		out.closers = append(out.closers, db)
	default:
		out.records = catalog.NewMemoryStore()
	}

	switch cfg.BlobBackend {
	case config.BlobRedis:
		if out.blobs, err = artifacts.NewRedisStore(client); err != nil {
			return nil, err
		}
	case config.BlobFS:
		if out.blobs, err = artifacts.NewFileStore(cfg.BlobDir); err != nil {
			return nil, err
		}
	case config.BlobGCS:
		gcs, err := artifacts.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSPrefix, artifacts.GCSClientOptionsFromEnv(cfg.GCSEmulator)...)
		if err != nil {
			return nil, fmt.Errorf("open gcs: %w", err)
		}
		out.blobs = gcs
		out.closers = append(out.closers, gcs)
	default:
		out.blobs = artifacts.NewMemoryStore()
	}
	return out, nil
}
