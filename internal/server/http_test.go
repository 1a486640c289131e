package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zot/snippets/internal/config"
	"github.com/zot/snippets/internal/notice"
	"github.com/zot/snippets/internal/storage"
)

func testSite() fstest.MapFS {
	return fstest.MapFS{
		"index.html": {Data: []byte("<html><body>Test</body></html>")},
		"style.css":  {Data: []byte("body{}")},
		"app.js":     {Data: []byte("// app")},
		"extra.txt":  {Data: []byte("not cached")},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SetLogOutput(io.Discard)
	cfg.Storage.Type = storage.TypeMemory
	cfg.Storage.Path = t.Name()
	cfg.Cache.Dir = t.TempDir()
	cfg.Notice.TTL = config.Duration(time.Minute)

	s, err := New(cfg, testSite())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("Invalid JSON response %q: %v", w.Body.String(), err)
	}
	return v
}

func lastNotice(t *testing.T, s *Server) notice.Notice {
	t.Helper()
	active := s.Notices().Active()
	if len(active) == 0 {
		t.Fatal("Expected a notice")
	}
	return active[len(active)-1]
}

// TestCreateGetUpdateDelete verifies the record lifecycle over HTTP
func TestCreateGetUpdateDelete(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "POST", "/api/codes", `{"titulo":"Hello","conteudo":"print(1)"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[idResponse](t, w)
	if created.ID != 1 || !created.Created {
		t.Errorf("Unexpected create response: %+v", created)
	}
	if n := lastNotice(t, s); n.Kind != notice.Success || n.Message != msgCreated {
		t.Errorf("Unexpected notice: %+v", n)
	}

	w = do(t, s, "GET", "/api/codes/1", "")
	rec := decode[storage.Record](t, w)
	if rec.Title != "Hello" || rec.Content != "print(1)" {
		t.Errorf("Unexpected record: %+v", rec)
	}

	w = do(t, s, "PUT", "/api/codes/1", `{"titulo":"Hello2","conteudo":"print(2)"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	rec = decode[storage.Record](t, do(t, s, "GET", "/api/codes/1", ""))
	if rec.Title != "Hello2" {
		t.Errorf("Update not applied: %+v", rec)
	}

	w = do(t, s, "DELETE", "/api/codes/1", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	w = do(t, s, "DELETE", "/api/codes/1", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Deleting an absent id should succeed, got %d", w.Code)
	}
	w = do(t, s, "GET", "/api/codes/1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

// TestSubmitUsesEditingID verifies submit creates without editingId and updates with it
func TestSubmitUsesEditingID(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "POST", "/api/submit", `{"titulo":"A","conteudo":"1"}`)
	first := decode[idResponse](t, w)
	if w.Code != http.StatusCreated || !first.Created {
		t.Fatalf("Expected create, got %d %+v", w.Code, first)
	}

	w = do(t, s, "POST", "/api/submit", `{"editingId":1,"titulo":"A2","conteudo":"2","imagem":"data:image/png;base64,AA=="}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if n := lastNotice(t, s); n.Message != msgUpdated {
		t.Errorf("Expected update notice, got %+v", n)
	}

	all := decode[[]storage.Record](t, do(t, s, "GET", "/api/codes", ""))
	if len(all) != 1 || all[0].Title != "A2" || all[0].Image == nil {
		t.Errorf("Unexpected records: %+v", all)
	}
}

// TestBadRequests verifies input errors are JSON 400s
func TestBadRequests(t *testing.T) {
	s := newTestServer(t)

	for _, c := range []struct{ method, path, body string }{
		{"POST", "/api/codes", `{not json`},
		{"GET", "/api/codes/abc", ""},
		{"PUT", "/api/codes/0", `{"titulo":"x","conteudo":"y"}`},
		{"POST", "/api/import?policy=maybe", `[]`},
		{"POST", "/api/import", `{"oops": true}`},
	} {
		w := do(t, s, c.method, c.path, c.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s %s: expected 400, got %d", c.method, c.path, w.Code)
			continue
		}
		if resp := decode[errorResponse](t, w); resp.Error == "" {
			t.Errorf("%s %s: expected error message", c.method, c.path)
		}
	}
}

// TestSearchEndpoint verifies matching and the empty term
func TestSearchEndpoint(t *testing.T) {
	s := newTestServer(t)
	do(t, s, "POST", "/api/codes", `{"titulo":"Hello","conteudo":"x"}`)
	do(t, s, "POST", "/api/codes", `{"titulo":"Sort","conteudo":"quickSort"}`)

	got := decode[[]storage.Record](t, do(t, s, "GET", "/api/search?q=SORT", ""))
	if len(got) != 1 || got[0].Title != "Sort" {
		t.Errorf("Unexpected matches: %+v", got)
	}

	w := do(t, s, "GET", "/api/search?q=", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Empty term should return [], got %q", w.Body.String())
	}
}

// TestExportImport verifies the backup download and a body or multipart upload
func TestExportImport(t *testing.T) {
	s := newTestServer(t)
	do(t, s, "POST", "/api/codes", `{"titulo":"a","conteudo":"1"}`)

	w := do(t, s, "GET", "/api/export", "")
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="backup_codigos.json"` {
		t.Errorf("Unexpected Content-Disposition %q", cd)
	}
	if !strings.HasPrefix(w.Body.String(), "[\n  {\n    \"id\": 1,") {
		t.Errorf("Unexpected export body %q", w.Body.String())
	}

	w = do(t, s, "POST", "/api/import", `[{"id":1,"titulo":"a2","conteudo":"1"},{"id":5,"titulo":"b","conteudo":"2"}]`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decode[importResponse](t, w); resp.Imported != 2 {
		t.Errorf("Expected 2 imported, got %+v", resp)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "backup_codigos.json")
	fw.Write([]byte(`[{"id":9,"titulo":"c","conteudo":"3"}]`))
	mw.Close()
	req := httptest.NewRequest("POST", "/api/import?policy=independent", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("Multipart import: expected 200, got %d: %s", rw.Code, rw.Body.String())
	}

	all := decode[[]storage.Record](t, do(t, s, "GET", "/api/codes", ""))
	if len(all) != 3 || all[0].Title != "a2" || all[2].ID != 9 {
		t.Errorf("Unexpected records after import: %+v", all)
	}
}

// TestStaticCacheFirst verifies allow-listed files come from the asset cache
func TestStaticCacheFirst(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "GET", "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Test") {
		t.Errorf("Expected index.html, got %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Cache") != "hit" {
		t.Error("Expected / to be served from the cache")
	}

	w = do(t, s, "GET", "/style.css", "")
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Errorf("Expected text/css, got %q", ct)
	}

	w = do(t, s, "GET", "/extra.txt", "")
	if w.Body.String() != "not cached" || w.Header().Get("X-Cache") != "" {
		t.Errorf("Expected network fallback for extra.txt, got %q", w.Body.String())
	}

	w = do(t, s, "GET", "/missing.js", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

// TestUnknownAPI verifies unknown API paths are JSON 404s
func TestUnknownAPI(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, "GET", "/api/nothing", "")
	if w.Code != http.StatusNotFound || w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected JSON 404, got %d %q", w.Code, w.Header().Get("Content-Type"))
	}
}

// TestNoticeWebSocket verifies notices are pushed to connected pages
func TestNoticeWebSocket(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/notices", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	resp, err := http.Post(ts.URL+"/api/codes", "application/json", strings.NewReader(`{"titulo":"x","conteudo":"y"}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var n notice.Notice
	if err := conn.ReadJSON(&n); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if n.Kind != notice.Success || n.Message != msgCreated {
		t.Errorf("Unexpected notice: %+v", n)
	}
}

// TestRequestAfterShutdown verifies store requests fail cleanly once the server stopped
func TestRequestAfterShutdown(t *testing.T) {
	s := newTestServer(t)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	w := do(t, s, "GET", "/api/codes", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decode[errorResponse](t, w); !strings.Contains(resp.Error, storage.ErrClosed.Error()) {
		t.Errorf("Expected a closed error, got %q", resp.Error)
	}

	w = do(t, s, "POST", "/api/codes", `{"titulo":"late","conteudo":"x"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 for a late create, got %d", w.Code)
	}
}

// TestStaticHeadAndRange verifies site files honor HEAD and Range requests
func TestStaticHeadAndRange(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "HEAD", "/extra.txt", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("HEAD should have no body, got %q", w.Body.String())
	}
	if cl := w.Header().Get("Content-Length"); cl != "10" {
		t.Errorf("Expected Content-Length 10, got %q", cl)
	}

	req := httptest.NewRequest("GET", "/extra.txt", nil)
	req.Header.Set("Range", "bytes=0-2")
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)
	if rw.Code != http.StatusPartialContent || rw.Body.String() != "not" {
		t.Errorf("Expected 206 \"not\", got %d %q", rw.Code, rw.Body.String())
	}
}
