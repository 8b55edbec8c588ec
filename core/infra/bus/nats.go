package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/botify/catalog/core/catalog"
	"github.com/botify/catalog/core/infra/logging"
	"github.com/nats-io/nats.go"
)

const (
	// SubjectPrefix namespaces every catalog event subject.
	SubjectPrefix = "botify.catalog."
	// SubjectAll matches every catalog event.
	SubjectAll = SubjectPrefix + ">"

	streamCatalog  = "BOTIFY_CATALOG"
	defaultMaxAge  = 7 * 24 * time.Hour
	dedupeWindow   = 2 * time.Minute
	reconnectDelay = 2 * time.Second
)

var (
	errNilBus     = errors.New("nats bus not initialized")
	errEmptyTopic = errors.New("empty subject")
	errNilHandler = errors.New("nil handler")
)

// Options configures the NATS connection.
type Options struct {
	Name string
	// JetStream persists catalog events in a stream with publish deduplication.
	JetStream bool
	MaxAge    time.Duration
}

// NatsBus is a thin wrapper over a NATS connection that speaks JSON catalog events.
type NatsBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	jsEnabled bool
}

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string, o Options) (*NatsBus, error) {
	name := o.Name
	if name == "" {
		name = "botify-catalog"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectDelay),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("bus", "disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to nats", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	b := &NatsBus{nc: nc}
	if o.JetStream {
		b.initJetStream(o.MaxAge)
	}
	return b, nil
}

// Close drains and shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b != nil && b.nc != nil {
		_ = b.nc.Drain()
	}
}

// Subject returns the NATS subject for an event type.
func Subject(t catalog.EventType) string {
	if t == "" {
		return ""
	}
	return SubjectPrefix + string(t)
}

// Publish sends a JSON-encoded catalog event on its type's subject.
func (b *NatsBus) Publish(ctx context.Context, evt catalog.Event) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	subject := Subject(evt.Type)
	if subject == "" {
		return errEmptyTopic
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if b.jsEnabled {
		_, err = b.js.Publish(subject, data, nats.MsgId(msgID(evt)), nats.Context(ctx))
		return err
	}
	return b.nc.Publish(subject, data)
}

// Subscribe attaches a subscription that decodes catalog events and invokes
// the handler. Subscriptions are ephemeral; a non-empty queue load-balances
// deliveries across members.
func (b *NatsBus) Subscribe(subject, queue string, handler func(catalog.Event) error) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if handler == nil {
		return errNilHandler
	}
	cb := func(msg *nats.Msg) {
		var evt catalog.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			logging.Warn("bus", "failed to decode event", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(evt); err != nil {
			logging.Warn("bus", "handler error", "subject", msg.Subject, "error", err)
		}
	}
	var err error
	if queue == "" {
		_, err = b.nc.Subscribe(subject, cb)
	} else {
		_, err = b.nc.QueueSubscribe(subject, queue, cb)
	}
	return err
}

func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *NatsBus) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}

func (b *NatsBus) ConnectedURL() string {
	if b == nil || b.nc == nil {
		return ""
	}
	return b.nc.ConnectedUrl()
}

func (b *NatsBus) initJetStream(maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	js, err := b.nc.JetStream()
	if err != nil {
		logging.Warn("bus", "jetstream init failed", "error", err)
		return
	}
	if _, err := js.AccountInfo(); err != nil {
		logging.Warn("bus", "jetstream not available", "error", err)
		return
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       streamCatalog,
		Subjects:   []string{SubjectAll},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     maxAge,
		Duplicates: dedupeWindow,
	})
	if err != nil {
		// Stream may already exist; treat that as success.
		if _, infoErr := js.StreamInfo(streamCatalog); infoErr != nil {
			logging.Warn("bus", "jetstream ensure stream failed", "stream", streamCatalog, "error", err)
			return
		}
	}
	b.js = js
	b.jsEnabled = true
	logging.Info("bus", "jetstream enabled", "stream", streamCatalog, "max_age", maxAge.String())
}

// msgID identifies one state transition of one record; a retried publish of
// the same transition is dropped by the stream's duplicate window.
func msgID(evt catalog.Event) string {
	return strings.Join([]string{string(evt.Type), evt.RecordID, fmt.Sprint(evt.Version)}, ":")
}
