package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/botify/catalog/core/catalog"
	"github.com/botify/catalog/core/infra/bus"
	"github.com/gorilla/websocket"
)

type fakeSource struct {
	subject string
	handler func(catalog.Event) error
	err     error
}

func (f *fakeSource) Subscribe(subject, _ string, handler func(catalog.Event) error) error {
	f.subject = subject
	f.handler = handler
	return f.err
}

func dialStream(t *testing.T, srv *httptest.Server, hub *Hub) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) catalog.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var evt catalog.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode event %s: %v", data, err)
	}
	return evt
}

func TestStreamDeliversCatalogEvents(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	g := newTestGateway(t, nil, hub)
	srv := httptest.NewServer(g.handler)
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv, hub)
	bot := g.submitEcho(t)

	evt := readEvent(t, conn)
	if evt.Type != catalog.EventRecordCreated || evt.RecordID != bot.ID || evt.Name != "Echo" {
		t.Fatalf("unexpected created event %#v", evt)
	}

	g.do(t, postJSON("/api/v1/bots/"+bot.ID+"/ratings", `{"rating":5}`))
	evt = readEvent(t, conn)
	if evt.Type != catalog.EventRecordRated || evt.Rating != 5 || evt.RatingsCount != 1 {
		t.Fatalf("unexpected rated event %#v", evt)
	}

	g.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/bots/"+bot.ID+"/downloads", nil))
	evt = readEvent(t, conn)
	if evt.Type != catalog.EventRecordDownloaded || evt.Downloads != 1 {
		t.Fatalf("unexpected downloaded event %#v", evt)
	}
}

func TestStreamClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	g := newTestGateway(t, nil, hub)
	srv := httptest.NewServer(g.handler)
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv, hub)
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client still registered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamDisabledWithoutHub(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	rec := g.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without hub, got %d", rec.Code)
	}
}

func TestHubAttachForwardsBusEvents(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	g := newTestGateway(t, nil, hub)
	srv := httptest.NewServer(g.handler)
	t.Cleanup(srv.Close)

	src := &fakeSource{}
	if err := hub.Attach(src); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if src.subject != bus.SubjectAll {
		t.Fatalf("subscribed to %q, want %q", src.subject, bus.SubjectAll)
	}

	conn := dialStream(t, srv, hub)
	if err := src.handler(catalog.Event{Type: catalog.EventRecordDownloaded, RecordID: "bot_remote", Downloads: 9}); err != nil {
		t.Fatalf("handler: %v", err)
	}
	evt := readEvent(t, conn)
	if evt.RecordID != "bot_remote" || evt.Downloads != 9 {
		t.Fatalf("unexpected forwarded event %#v", evt)
	}
}

func TestHubAttachPropagatesSubscribeError(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	boom := errors.New("no bus")
	if err := hub.Attach(&fakeSource{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected subscribe error, got %v", err)
	}
}

func TestHubPublishAfterClose(t *testing.T) {
	hub := NewHub()
	hub.Close()
	hub.Close()
	if err := hub.Publish(context.Background(), catalog.Event{Type: catalog.EventRecordCreated}); err != nil {
		t.Fatalf("publish after close: %v", err)
	}
}
