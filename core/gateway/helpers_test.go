package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/botify/catalog/core/catalog"
	"github.com/botify/catalog/core/infra/artifacts"
	"github.com/botify/catalog/core/infra/config"
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

func echoArchive(t *testing.T) []byte {
	return buildZip(t,
		zipEntry{"bot.json", `{"language":"python"}`},
		zipEntry{"main.py", "print('echo')"},
	)
}

// multipartBody encodes fields and, when archive is non-nil, a file part.
func multipartBody(t *testing.T, archive []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if archive != nil {
		fw, err := mw.CreateFormFile(formFileField, "bot.zip")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(archive); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

type recordingMetrics struct {
	mu       sync.Mutex
	observed []observation
}

type observation struct {
	method, route, status string
}

func (m *recordingMetrics) ObserveRequest(method, route, status string, _ float64) {
	m.mu.Lock()
	m.observed = append(m.observed, observation{method, route, status})
	m.mu.Unlock()
}

func (m *recordingMetrics) has(method, route, status string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.observed {
		if o == (observation{method, route, status}) {
			return true
		}
	}
	return false
}

type testGateway struct {
	handler *Handler
	svc     *catalog.Service
	blobs   *artifacts.MemoryStore
	metrics *recordingMetrics
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RateLimitRPS = 1000
	cfg.RateLimitBurst = 1000
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.Config, hub *Hub, svcOpts ...catalog.Option) *testGateway {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	blobs := artifacts.NewMemoryStore()
	opts := append([]catalog.Option{catalog.WithTempDir(t.TempDir())}, svcOpts...)
	if hub != nil {
		opts = append(opts, catalog.WithPublisher(hub))
	}
	svc := catalog.NewService(catalog.NewMemoryStore(), blobs, opts...)
	return newTestGatewayWith(t, cfg, svc, blobs, hub)
}

func newTestGatewayWith(t *testing.T, cfg *config.Config, svc *catalog.Service, blobs *artifacts.MemoryStore, hub *Hub) *testGateway {
	t.Helper()
	m := &recordingMetrics{}
	h, err := NewHandler(cfg, Options{Service: svc, Hub: hub, Metrics: m})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	t.Cleanup(h.Close)
	return &testGateway{handler: h, svc: svc, blobs: blobs, metrics: m}
}

func (g *testGateway) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	return rec
}

func (g *testGateway) submit(t *testing.T, archive []byte, fields map[string]string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, archive, fields)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bots", body)
	req.Header.Set("Content-Type", contentType)
	for k, v := range header {
		req.Header[k] = v
	}
	return g.do(t, req)
}

func (g *testGateway) submitEcho(t *testing.T) *catalog.Record {
	t.Helper()
	rec := g.submit(t, echoArchive(t), map[string]string{"name": "Echo", "tags": "demo,sample"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit status %d: %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	decode(t, rec, &resp)
	return resp.Bot
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d: %s", rec.Code, status, rec.Body.String())
	}
	var body errorBody
	decode(t, rec, &body)
	if body.Kind != kind {
		t.Fatalf("kind = %q, want %q (%s)", body.Kind, kind, body.Error)
	}
}
