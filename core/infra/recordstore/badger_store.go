package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/botify/catalog/core/catalog"
	"github.com/dgraph-io/badger/v4"
)

var badgerRecordPrefix = []byte("bot:")

// BadgerStore implements catalog.Store on an embedded Badger database.
// Badger's serializable transactions reject a commit whose read set changed
// underneath it, which surfaces here as catalog.ErrConflict.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a database at path. An empty path opens an
// in-memory database.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Get(ctx context.Context, id string) (*catalog.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *catalog.Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, id)
		return err
	})
	if err != nil {
		return nil, badgerError("get", err)
	}
	return rec, nil
}

func (s *BadgerStore) Create(ctx context.Context, rec *catalog.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record id required", catalog.ErrStoreUnavailable)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(badgerKey(rec.ID))
		if err == nil {
			return catalog.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(badgerKey(rec.ID), payload)
	})
	if errors.Is(err, badger.ErrConflict) {
		return catalog.ErrAlreadyExists
	}
	return badgerError("create", err)
}

func (s *BadgerStore) List(ctx context.Context) ([]*catalog.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*catalog.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = badgerRecordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec *catalog.Record
			err := it.Item().Value(func(val []byte) error {
				var err error
				rec, err = decodeRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, badgerError("list", err)
	}
	return out, nil
}

func (s *BadgerStore) CompareAndSwap(ctx context.Context, rec *catalog.Record, expected int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || rec.ID == "" {
		return catalog.ErrNotFound
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		current, err := readRecord(txn, rec.ID)
		if err != nil {
			return err
		}
		if current.Version != expected {
			return catalog.ErrConflict
		}
		return txn.Set(badgerKey(rec.ID), payload)
	})
	if errors.Is(err, badger.ErrConflict) {
		return catalog.ErrConflict
	}
	return badgerError("compare-and-swap", err)
}

func readRecord(txn *badger.Txn, id string) (*catalog.Record, error) {
	item, err := txn.Get(badgerKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec *catalog.Record
	err = item.Value(func(val []byte) error {
		var err error
		rec, err = decodeRecord(val)
		return err
	})
	return rec, err
}

// badgerError passes catalog errors through and wraps the rest as unavailable.
func badgerError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, catalog.ErrConflict),
		errors.Is(err, catalog.ErrAlreadyExists),
		errors.Is(err, catalog.ErrStoreUnavailable):
		return err
	default:
		return unavailable(op, err)
	}
}

func badgerKey(id string) []byte {
	return append(append([]byte{}, badgerRecordPrefix...), id...)
}
