package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	defaultMaxAttempts = 64
	defaultBaseDelay   = 2 * time.Millisecond
	defaultMaxDelay    = 100 * time.Millisecond
)

// RetryPolicy bounds the optimistic update loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// OnConflict, when set, is called after every lost compare-and-swap.
	OnConflict func(attempt int)
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// delay returns a full-jitter exponential backoff for the given attempt (1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return time.Duration(rand.Int64N(int64(d))) + 1
}

// Mutation edits a working copy of a record. Returning an error aborts the
// update and nothing is written.
type Mutation func(rec *Record) error

// Update applies mutate to the record identified by id as an atomic
// read-modify-write: read the current version, mutate a copy, then
// compare-and-swap against the version that was read. A lost race re-reads and
// re-applies mutate to the fresh value, so no concurrent update is discarded.
// It returns the written record and the number of attempts used. Contention
// beyond policy.MaxAttempts surfaces as ErrStoreUnavailable.
func Update(ctx context.Context, store Store, id string, mutate Mutation, policy RetryPolicy) (*Record, int, error) {
	policy = policy.normalized()
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		current, err := store.Get(ctx, id)
		if err != nil {
			return nil, attempt, storeError(err)
		}
		next := current.Clone()
		if err := mutate(next); err != nil {
			return nil, attempt, err
		}
		next.ID = current.ID
		next.Version = current.Version + 1

		err = store.CompareAndSwap(ctx, next, current.Version)
		switch {
		case err == nil:
			return next, attempt, nil
		case errors.Is(err, ErrConflict):
			if policy.OnConflict != nil {
				policy.OnConflict(attempt)
			}
			if attempt == policy.MaxAttempts {
				break
			}
			if err := sleepContext(ctx, policy.delay(attempt)); err != nil {
				return nil, attempt, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		default:
			return nil, attempt, storeError(err)
		}
	}
	return nil, policy.MaxAttempts, fmt.Errorf("%w: contention exhausted after %d attempts", ErrStoreUnavailable, policy.MaxAttempts)
}

// storeError passes catalog errors through and classifies anything else as a
// backend failure.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrAlreadyExists) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
