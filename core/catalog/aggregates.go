package catalog

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/botify/catalog/core/infra/metrics"
)

const (
	opDownload = "download"
	opRating   = "rating"
)

// Updater applies the aggregate transitions (download increments and rating
// folds) to existing records through the optimistic Update loop.
type Updater struct {
	store   Store
	policy  RetryPolicy
	metrics metrics.CatalogMetrics
	now     func() time.Time
}

// NewUpdater returns an Updater over store. A nil metrics sink is replaced by a no-op.
func NewUpdater(store Store, policy RetryPolicy, m metrics.CatalogMetrics) *Updater {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Updater{
		store:   store,
		policy:  policy.normalized(),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RecordDownload increments the download counter by exactly one.
func (u *Updater) RecordDownload(ctx context.Context, id string) (*Record, error) {
	rec, err := u.apply(ctx, opDownload, id, func(rec *Record) error {
		rec.Downloads++
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.metrics.IncDownload()
	return rec, nil
}

// RecordRating folds rating into the running mean. Out of range or
// non-finite ratings fail with ErrInvalidRating before the store is touched.
func (u *Updater) RecordRating(ctx context.Context, id string, rating float64) (*Record, error) {
	if err := ValidateRating(rating); err != nil {
		return nil, err
	}
	rec, err := u.apply(ctx, opRating, id, func(rec *Record) error {
		rec.Rating, rec.RatingsCount = FoldRating(rec.Rating, rec.RatingsCount, rating)
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.metrics.IncRating()
	return rec, nil
}

func (u *Updater) apply(ctx context.Context, op, id string, mutate Mutation) (*Record, error) {
	policy := u.policy
	policy.OnConflict = func(int) { u.metrics.IncUpdateConflict(op) }
	rec, attempts, err := Update(ctx, u.store, id, func(rec *Record) error {
		if err := mutate(rec); err != nil {
			return err
		}
		if now := u.now(); now.After(rec.UpdatedAt) {
			rec.UpdatedAt = now
		}
		return nil
	}, policy)
	u.metrics.ObserveUpdateAttempts(op, attempts)
	return rec, err
}

// ValidateRating accepts finite values in [MinRating, MaxRating].
func ValidateRating(rating float64) error {
	if math.IsNaN(rating) || math.IsInf(rating, 0) || rating < MinRating || rating > MaxRating {
		return fmt.Errorf("%w: %v not in [%g, %g]", ErrInvalidRating, rating, MinRating, MaxRating)
	}
	return nil
}

// FoldRating adds one rating to a running mean of count ratings.
func FoldRating(mean float64, count int64, rating float64) (float64, int64) {
	if count <= 0 {
		return rating, 1
	}
	next := count + 1
	return (mean*float64(count) + rating) / float64(next), next
}
