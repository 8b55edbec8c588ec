package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/botify/catalog/core/catalog"
	"github.com/botify/catalog/core/infra/bus"
	"github.com/botify/catalog/core/infra/logging"
	"github.com/gorilla/websocket"
)

const (
	hubBuffer    = 512
	clientBuffer = 100
	writeTimeout = 10 * time.Second
)

// EventSource delivers catalog events published by any replica.
type EventSource interface {
	Subscribe(subject, queue string, handler func(catalog.Event) error) error
}

// Hub fans catalog events out to websocket clients. It is a catalog.Publisher
// for single-replica deployments and can also be fed from the NATS bus.
type Hub struct {
	events chan catalog.Event
	done   chan struct{}
	once   sync.Once

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan catalog.Event
}

// NewHub starts the broadcast loop.
func NewHub() *Hub {
	h := &Hub{
		events:  make(chan catalog.Event, hubBuffer),
		done:    make(chan struct{}),
		clients: make(map[*websocket.Conn]chan catalog.Event),
	}
	go h.run()
	return h
}

// Publish enqueues an event for every connected client. It never blocks; a
// full queue drops the event.
func (h *Hub) Publish(_ context.Context, evt catalog.Event) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	select {
	case h.events <- evt:
	default:
		logging.Warn("gateway", "stream queue full, dropping event", "type", evt.Type, "record_id", evt.RecordID)
	}
	return nil
}

// Attach feeds the hub from every catalog event on the bus.
func (h *Hub) Attach(src EventSource) error {
	return src.Subscribe(bus.SubjectAll, "", func(evt catalog.Event) error {
		return h.Publish(context.Background(), evt)
	})
}

// Close stops the broadcast loop and disconnects every client.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)
		h.mu.Lock()
		for conn := range h.clients {
			_ = conn.Close()
			delete(h.clients, conn)
		}
		h.mu.Unlock()
	})
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return
		case evt := <-h.events:
			h.broadcast(evt)
		}
	}
}

func (h *Hub) broadcast(evt catalog.Event) {
	var slowClients []*websocket.Conn
	h.mu.RLock()
	for conn, ch := range h.clients {
		select {
		case ch <- evt:
		default:
			slowClients = append(slowClients, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range slowClients {
		h.remove(conn)
		if err := conn.Close(); err != nil {
			logging.Warn("gateway", "ws client close failed", "error", err)
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) chan catalog.Event {
	ch := make(chan catalog.Event, clientBuffer)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "event stream disabled", Kind: catalog.ErrStoreUnavailable.Error()})
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("gateway", "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logging.Debug("gateway", "ws connected", "remote", r.RemoteAddr)

	clientCh := s.hub.add(ws)
	defer s.hub.remove(ws)

	// Clients never send; reading only surfaces the close frame.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt := <-clientCh:
			data, err := json.Marshal(evt)
			if err != nil {
				logging.Error("gateway", "event marshal failed", "error", err)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-gone:
			return
		case <-s.hub.done:
			return
		}
	}
}
