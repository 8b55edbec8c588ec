package catalog

import (
	"context"
	"errors"
	"time"
)

// EventType names a catalog change.
type EventType string

const (
	EventRecordCreated    EventType = "record.created"
	EventRecordDownloaded EventType = "record.downloaded"
	EventRecordRated      EventType = "record.rated"
)

// Event is the notification emitted after a catalog change is persisted.
type Event struct {
	Type         EventType `json:"type"`
	RecordID     string    `json:"record_id"`
	Name         string    `json:"name,omitempty"`
	Downloads    int64     `json:"downloads"`
	Rating       float64   `json:"rating"`
	RatingsCount int64     `json:"ratings_count"`
	Version      int64     `json:"version"`
	At           time.Time `json:"at"`
}

// NewEvent snapshots rec for the given change.
func NewEvent(t EventType, rec *Record) Event {
	return Event{
		Type:         t,
		RecordID:     rec.ID,
		Name:         rec.Name,
		Downloads:    rec.Downloads,
		Rating:       rec.Rating,
		RatingsCount: rec.RatingsCount,
		Version:      rec.Version,
		At:           rec.UpdatedAt,
	}
}

// Publisher delivers catalog events. Delivery is best effort; a failed publish
// never rolls back the change that produced it.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// Publishers fans one event out to several publishers.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
