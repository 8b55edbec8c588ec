package catalog

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

type countingMetrics struct {
	mu        sync.Mutex
	downloads int
	ratings   int
	conflicts map[string]int
	attempts  map[string][]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{conflicts: map[string]int{}, attempts: map[string][]int{}}
}

func (m *countingMetrics) IncSubmission(string) {}

func (m *countingMetrics) IncDownload() {
	m.mu.Lock()
	m.downloads++
	m.mu.Unlock()
}

func (m *countingMetrics) IncRating() {
	m.mu.Lock()
	m.ratings++
	m.mu.Unlock()
}

func (m *countingMetrics) IncUpdateConflict(op string) {
	m.mu.Lock()
	m.conflicts[op]++
	m.mu.Unlock()
}

func (m *countingMetrics) ObserveUpdateAttempts(op string, n int) {
	m.mu.Lock()
	m.attempts[op] = append(m.attempts[op], n)
	m.mu.Unlock()
}

func TestRecordRatingScenario(t *testing.T) {
	store := NewMemoryStore()
	id := seedRecord(t, store)
	u := NewUpdater(store, DefaultRetryPolicy(), nil)
	ctx := context.Background()

	if _, err := u.RecordRating(ctx, id, 3); err != nil {
		t.Fatalf("rate 3: %v", err)
	}
	rec, err := u.RecordRating(ctx, id, 5)
	if err != nil {
		t.Fatalf("rate 5: %v", err)
	}
	if rec.Rating != 4.0 || rec.RatingsCount != 2 {
		t.Fatalf("rating=%v count=%d, want 4.0/2", rec.Rating, rec.RatingsCount)
	}
}

func TestRecordRatingRejectsInvalidWithoutStateChange(t *testing.T) {
	store := NewMemoryStore()
	id := seedRecord(t, store)
	u := NewUpdater(store, DefaultRetryPolicy(), nil)
	before, _ := store.Get(context.Background(), id)

	for _, r := range []float64{0, 6, 0.999, 5.0001, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := u.RecordRating(context.Background(), id, r); !errors.Is(err, ErrInvalidRating) {
			t.Fatalf("rating %v: expected invalid rating, got %v", r, err)
		}
	}
	after, _ := store.Get(context.Background(), id)
	if after.Version != before.Version || after.RatingsCount != 0 || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("state changed after invalid ratings: %#v", after)
	}
}

func TestRecordRatingBoundsInclusive(t *testing.T) {
	store := NewMemoryStore()
	id := seedRecord(t, store)
	u := NewUpdater(store, DefaultRetryPolicy(), nil)
	for _, r := range []float64{MinRating, MaxRating} {
		if _, err := u.RecordRating(context.Background(), id, r); err != nil {
			t.Fatalf("rating %v rejected: %v", r, err)
		}
	}
}

func TestRecordDownloadNotFound(t *testing.T) {
	u := NewUpdater(NewMemoryStore(), DefaultRetryPolicy(), nil)
	if _, err := u.RecordDownload(context.Background(), "bot_nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := u.RecordRating(context.Background(), "bot_nope", 4); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for rating, got %v", err)
	}
}

func TestRecordDownloadSetsUpdatedAt(t *testing.T) {
	store := NewMemoryStore()
	id := seedRecord(t, store)
	u := NewUpdater(store, DefaultRetryPolicy(), nil)
	u.now = fixedClock(time.Now().UTC().Add(time.Hour))

	before, _ := store.Get(context.Background(), id)
	rec, err := u.RecordDownload(context.Background(), id)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if rec.Downloads != 1 || !rec.UpdatedAt.After(before.UpdatedAt) || !rec.CreatedAt.Equal(before.CreatedAt) {
		t.Fatalf("unexpected record after download: %#v", rec)
	}
}

func TestConcurrentDownloadsExact(t *testing.T) {
	for _, n := range []int{2, 17, 100} {
		store := NewMemoryStore()
		id := seedRecord(t, store)
		m := newCountingMetrics()
		u := NewUpdater(store, fastPolicy(), m)

		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := u.RecordDownload(context.Background(), id); err != nil {
					t.Errorf("download: %v", err)
				}
			}()
		}
		wg.Wait()
		rec, _ := store.Get(context.Background(), id)
		if rec.Downloads != int64(n) {
			t.Fatalf("n=%d: downloads=%d", n, rec.Downloads)
		}
		if m.downloads != n || len(m.attempts[opDownload]) != n {
			t.Fatalf("n=%d: metrics downloads=%d observations=%d", n, m.downloads, len(m.attempts[opDownload]))
		}
	}
}

func TestConcurrentRatingsTrueMean(t *testing.T) {
	store := NewMemoryStore()
	id := seedRecord(t, store)
	u := NewUpdater(store, fastPolicy(), nil)

	ratings := make([]float64, 0, 99)
	var sum float64
	for i := range 99 {
		r := 1 + float64(i%17)/4
		ratings = append(ratings, r)
		sum += r
	}

	var wg sync.WaitGroup
	for _, r := range ratings {
		wg.Add(1)
		go func(r float64) {
			defer wg.Done()
			if _, err := u.RecordRating(context.Background(), id, r); err != nil {
				t.Errorf("rate: %v", err)
			}
		}(r)
	}
	wg.Wait()

	rec, _ := store.Get(context.Background(), id)
	want := sum / float64(len(ratings))
	if rec.RatingsCount != int64(len(ratings)) {
		t.Fatalf("ratings count=%d want %d", rec.RatingsCount, len(ratings))
	}
	if math.Abs(rec.Rating-want) > 0.05 {
		t.Fatalf("rating=%v want %v", rec.Rating, want)
	}
}

func TestConcurrentMixedUpdates(t *testing.T) {
	store := NewMemoryStore()
	id := seedRecord(t, store)
	u := NewUpdater(store, fastPolicy(), nil)

	var wg sync.WaitGroup
	for i := range 60 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = u.RecordDownload(context.Background(), id)
			} else {
				_, err = u.RecordRating(context.Background(), id, 2)
			}
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}(i)
	}
	wg.Wait()
	rec, _ := store.Get(context.Background(), id)
	if rec.Downloads != 30 || rec.RatingsCount != 30 || rec.Rating != 2 || rec.Version != 61 {
		t.Fatalf("unexpected record %#v", rec)
	}
}

func TestFoldRating(t *testing.T) {
	mean, count := FoldRating(0, 0, 3)
	if mean != 3 || count != 1 {
		t.Fatalf("first fold = %v/%d", mean, count)
	}
	mean, count = FoldRating(mean, count, 5)
	if mean != 4 || count != 2 {
		t.Fatalf("second fold = %v/%d", mean, count)
	}
}
