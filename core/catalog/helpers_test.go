package catalog

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

type zipEntry struct {
	name string
	body string
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("zip create %s: %v", e.name, err)
		}
		if _, err := w.Write([]byte(e.body)); err != nil {
			t.Fatalf("zip write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func mustValidate(t *testing.T, data []byte) *Archive {
	t.Helper()
	a, err := ValidateBytes(data)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	return a
}

// seedRecord stores a fresh record with zeroed aggregates and returns its id.
func seedRecord(t *testing.T, store Store) string {
	t.Helper()
	b := NewBuilder()
	rec := b.Build(nil, nil, Fields{Name: "seed"}, "mem://seed")
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	return rec.ID
}

// fixedClock returns a clock that advances one millisecond per call.
func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Millisecond)
		return current
	}
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 10_000, BaseDelay: 0, MaxDelay: 0}
}
