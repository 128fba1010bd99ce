package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zavora-ai/imagegen/core/infra/artifacts"
	"github.com/zavora-ai/imagegen/core/infra/buildinfo"
	"github.com/zavora-ai/imagegen/core/ratelimit"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

type recordedRequest struct {
	method, route, status string
}

type stubMetrics struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (m *stubMetrics) ObserveRequest(method, route, status string, _ float64) {
	m.mu.Lock()
	m.requests = append(m.requests, recordedRequest{method: method, route: route, status: status})
	m.mu.Unlock()
}

func (m *stubMetrics) snapshot() []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedRequest(nil), m.requests...)
}

type stubBus struct{}

func (stubBus) IsConnected() bool { return true }
func (stubBus) Status() string    { return "CONNECTED" }

type testGateway struct {
	server  *Server
	store   *artifacts.TieredStore
	hub     *Hub
	metrics *stubMetrics
	handler http.Handler
}

func newTestGateway(t *testing.T, limit int) *testGateway {
	t.Helper()
	dir := t.TempDir()
	index, err := artifacts.NewMetadataIndex(filepath.Join(dir, "metadata"))
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	hub := NewHub()
	clock := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	store, err := artifacts.NewTieredStore(artifacts.Options{
		Local: artifacts.NewLocalTier(filepath.Join(dir, "images")),
		Index: index,
		Now: func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
		Notifier: hub,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	gov, err := ratelimit.New(ratelimit.Options{Limit: limit, Window: time.Minute})
	if err != nil {
		t.Fatalf("new governor: %v", err)
	}
	m := &stubMetrics{}
	srv, err := New(Options{
		Store:    store,
		Governor: gov,
		Hub:      hub,
		Metrics:  m,
		Init:     store.Init,
		Build:    buildinfo.Summary{Version: "0.1.0", Commit: "abc123", Date: "2025-03-14"},
		Bus:      stubBus{},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testGateway{server: srv, store: store, hub: hub, metrics: m, handler: srv.Handler()}
}

func mustIndex(t *testing.T) *artifacts.MetadataIndex {
	t.Helper()
	index, err := artifacts.NewMetadataIndex(filepath.Join(t.TempDir(), "metadata"))
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	return index
}

func (g *testGateway) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, field, contentType string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="image.png"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type envelopeResp struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelopeResp {
	t.Helper()
	var env envelopeResp
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func saveArtifact(t *testing.T, g *testGateway, content string) *artifacts.Descriptor {
	t.Helper()
	prompt := "prompt " + content
	d, err := g.store.Save(context.Background(), append(append([]byte{}, pngMagic...), content...), artifacts.SaveRequest{
		Prompt:   &prompt,
		MimeType: "image/png",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	return d
}
