package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// conflictingStore loses every compare-and-swap.
type conflictingStore struct {
	*MemoryStore
	attempts atomic.Int64
}

func (s *conflictingStore) CompareAndSwap(context.Context, *Record, int64) error {
	s.attempts.Add(1)
	return ErrConflict
}

// flakyStore fails reads a fixed number of times before delegating.
type flakyStore struct {
	*MemoryStore
	failures atomic.Int64
}

func (s *flakyStore) Get(ctx context.Context, id string) (*Record, error) {
	if s.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset")
	}
	return s.MemoryStore.Get(ctx, id)
}

func (s *flakyStore) List(ctx context.Context) ([]*Record, error) {
	if s.failures.Add(-1) >= 0 {
		return nil, ErrStoreUnavailable
	}
	return s.MemoryStore.List(ctx)
}

func TestUpdateAppliesMutationAndBumpsVersion(t *testing.T) {
	store := NewMemoryStore()
	id := seedRecord(t, store)

	rec, attempts, err := Update(context.Background(), store, id, func(r *Record) error {
		r.Downloads += 5
		return nil
	}, DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if attempts != 1 || rec.Downloads != 5 || rec.Version != 2 {
		t.Fatalf("unexpected result attempts=%d rec=%#v", attempts, rec)
	}
	stored, _ := store.Get(context.Background(), id)
	if stored.Downloads != 5 || stored.Version != 2 {
		t.Fatalf("unexpected stored record %#v", stored)
	}
}

func TestUpdateNotFound(t *testing.T) {
	_, _, err := Update(context.Background(), NewMemoryStore(), "bot_missing", func(*Record) error { return nil }, DefaultRetryPolicy())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateMutationErrorWritesNothing(t *testing.T) {
	store := NewMemoryStore()
	id := seedRecord(t, store)
	boom := errors.New("boom")

	_, _, err := Update(context.Background(), store, id, func(r *Record) error {
		r.Downloads = 99
		return boom
	}, DefaultRetryPolicy())
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}
	stored, _ := store.Get(context.Background(), id)
	if stored.Downloads != 0 || stored.Version != 1 {
		t.Fatalf("record changed after aborted mutation: %#v", stored)
	}
}

func TestUpdateExhaustionIsStoreUnavailable(t *testing.T) {
	store := &conflictingStore{MemoryStore: NewMemoryStore()}
	id := seedRecord(t, store)
	var conflicts int
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Microsecond, MaxDelay: time.Microsecond, OnConflict: func(int) { conflicts++ }}

	_, attempts, err := Update(context.Background(), store, id, func(*Record) error { return nil }, policy)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if errors.Is(err, ErrConflict) {
		t.Fatalf("conflict must not leak to callers: %v", err)
	}
	if attempts != 5 || store.attempts.Load() != 5 || conflicts != 5 {
		t.Fatalf("attempts=%d cas=%d conflicts=%d", attempts, store.attempts.Load(), conflicts)
	}
}

func TestUpdateHonoursContextDuringBackoff(t *testing.T) {
	store := &conflictingStore{MemoryStore: NewMemoryStore()}
	id := seedRecord(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, attempts, err := Update(ctx, store, id, func(*Record) error { return nil }, RetryPolicy{MaxAttempts: 50, BaseDelay: time.Second, MaxDelay: time.Second})
	if !errors.Is(err, ErrStoreUnavailable) || attempts != 1 {
		t.Fatalf("expected early stop, attempts=%d err=%v", attempts, err)
	}
}

func TestUpdateWrapsBackendErrors(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	id := seedRecord(t, store)
	store.failures.Store(1)

	_, _, err := Update(context.Background(), store, id, func(*Record) error { return nil }, DefaultRetryPolicy())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestUpdateConcurrentNoLostUpdates(t *testing.T) {
	store := NewMemoryStore()
	id := seedRecord(t, store)
	const n = 100

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := Update(context.Background(), store, id, func(r *Record) error {
				r.Downloads++
				return nil
			}, fastPolicy())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	rec, _ := store.Get(context.Background(), id)
	if rec.Downloads != n || rec.Version != n+1 {
		t.Fatalf("downloads=%d version=%d, want %d/%d", rec.Downloads, rec.Version, n, n+1)
	}
}

func TestRetryPolicyDelayBounds(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: 2 * time.Millisecond, MaxDelay: 10 * time.Millisecond}
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.delay(attempt)
		if d <= 0 || d > p.MaxDelay {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
	if d := (RetryPolicy{}).delay(3); d != 0 {
		t.Fatalf("expected zero delay without base, got %v", d)
	}
	if got := (RetryPolicy{MaxAttempts: -1}).normalized().MaxAttempts; got != defaultMaxAttempts {
		t.Fatalf("expected default attempts, got %d", got)
	}
}
