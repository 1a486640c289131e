package assetcache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"testing/fstest"
	"time"

	"github.com/zot/snippets/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Cache.Dir = t.TempDir()
	cfg.SetLogOutput(io.Discard)
	return cfg
}

func siteFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html": {Data: []byte("<html>snippets</html>")},
		"style.css":  {Data: []byte("body{}")},
		"app.js":     {Data: []byte("console.log(1)")},
	}
}

// TestKey verifies path normalization
func TestKey(t *testing.T) {
	cases := map[string]string{
		"./":          "",
		"/":           "",
		"":            "",
		".":           "",
		"./style.css": "style.css",
		"/app.js":     "app.js",
		"img/a.png":   "img/a.png",
		"//x//y.js":   "x/y.js",
	}
	for in, want := range cases {
		if got := Key(in); got != want {
			t.Errorf("Key(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestInstallAndMatch verifies every allow-listed asset is cached
func TestInstallAndMatch(t *testing.T) {
	cfg := testConfig(t)
	c := New(cfg, FSFetcher{FS: siteFS()})

	if err := c.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	body, ct, ok := c.Match("/")
	if !ok || string(body) != "<html>snippets</html>" {
		t.Errorf("Root not cached: %q %v", body, ok)
	}
	if ct != "text/html; charset=utf-8" {
		t.Errorf("Unexpected root content type %q", ct)
	}
	if _, ct, ok := c.Match("./style.css"); !ok || ct != "text/css; charset=utf-8" {
		t.Errorf("style.css not cached: %q %v", ct, ok)
	}
	if _, _, ok := c.Match("/other.js"); ok {
		t.Error("Unlisted path should not be cached")
	}
	if n := len(c.Entries()); n != 3 {
		t.Errorf("Expected 3 entries, got %d", n)
	}
}

// TestInstallAllOrNothing verifies a failed fetch leaves no generation behind
func TestInstallAllOrNothing(t *testing.T) {
	cfg := testConfig(t)
	site := siteFS()
	delete(site, "app.js")
	c := New(cfg, FSFetcher{FS: site})

	if err := c.Install(context.Background()); err == nil {
		t.Fatal("Expected Install to fail")
	}
	gens, err := c.Generations()
	if err != nil {
		t.Fatalf("Generations failed: %v", err)
	}
	if len(gens) != 0 {
		t.Errorf("Expected no generations, got %v", gens)
	}
	entries, _ := os.ReadDir(cfg.Cache.Dir)
	if len(entries) != 0 {
		t.Errorf("Expected empty cache root, found %d entries", len(entries))
	}
}

// TestLoadReadsInstalledGeneration verifies a new Cache sees a previous install
func TestLoadReadsInstalledGeneration(t *testing.T) {
	cfg := testConfig(t)
	if err := New(cfg, FSFetcher{FS: siteFS()}).Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	c := New(cfg, FSFetcher{FS: fstest.MapFS{}})
	if err := c.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if body, _, ok := c.Match("/app.js"); !ok || string(body) != "console.log(1)" {
		t.Errorf("Expected cached app.js, got %q %v", body, ok)
	}

	cfg2 := testConfig(t)
	if err := New(cfg2, nil).Load(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected ErrNotExist for missing generation, got %v", err)
	}
}

// TestActivateDeletesStaleGenerations verifies only the current name survives
func TestActivateDeletesStaleGenerations(t *testing.T) {
	cfg := testConfig(t)
	for _, name := range []string{"snippets-cache-v0", "other"} {
		if err := os.MkdirAll(filepath.Join(cfg.Cache.Dir, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	c := New(cfg, FSFetcher{FS: siteFS()})
	if err := c.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	deleted, err := c.Activate()
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	sort.Strings(deleted)
	if len(deleted) != 2 || deleted[0] != "other" || deleted[1] != "snippets-cache-v0" {
		t.Errorf("Unexpected deleted generations: %v", deleted)
	}
	gens, _ := c.Generations()
	if len(gens) != 1 || gens[0] != cfg.Cache.Name {
		t.Errorf("Expected only %s, got %v", cfg.Cache.Name, gens)
	}
	if _, _, ok := c.Match("/"); !ok {
		t.Error("Current generation should still serve")
	}
}

// TestPutAndEvict verifies the allow-list and single-entry updates
func TestPutAndEvict(t *testing.T) {
	cfg := testConfig(t)
	c := New(cfg, FSFetcher{FS: siteFS()})

	if err := c.Put("/style.css", []byte("p{}"), "text/css"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if body, _, ok := c.Match("style.css"); !ok || string(body) != "p{}" {
		t.Errorf("Expected put body, got %q %v", body, ok)
	}
	if err := c.Put("/secret.txt", []byte("x"), "text/plain"); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("Expected ErrNotAllowed, got %v", err)
	}

	if err := c.Evict("./style.css"); err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	if _, _, ok := c.Match("style.css"); ok {
		t.Error("Evicted entry still matches")
	}
	if err := c.Evict("./style.css"); err != nil {
		t.Errorf("Second evict failed: %v", err)
	}
}

// TestHandlerCacheFirst verifies hits come from the cache and misses reach next
func TestHandlerCacheFirst(t *testing.T) {
	cfg := testConfig(t)
	c := New(cfg, FSFetcher{FS: siteFS()})
	if err := c.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	var networkHits []string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		networkHits = append(networkHits, r.Method+" "+r.URL.Path)
		w.Write([]byte("network"))
	})
	h := c.Handler(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/app.js", nil))
	if w.Body.String() != "console.log(1)" || w.Header().Get("X-Cache") != "hit" {
		t.Errorf("Expected cached app.js, got %q", w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("HEAD", "/", nil))
	if w.Body.Len() != 0 || w.Header().Get("Content-Length") != "21" {
		t.Errorf("Unexpected HEAD response: %q len=%s", w.Body.String(), w.Header().Get("Content-Length"))
	}

	for _, req := range []*http.Request{
		httptest.NewRequest("GET", "/api/codes", nil),
		httptest.NewRequest("POST", "/app.js", nil),
	} {
		w = httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Body.String() != "network" {
			t.Errorf("%s %s: expected network fallback, got %q", req.Method, req.URL.Path, w.Body.String())
		}
	}
	if len(networkHits) != 2 {
		t.Errorf("Expected 2 network hits, got %v", networkHits)
	}
}

// TestHTTPFetcher verifies fetching from an upstream server
func TestHTTPFetcher(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("root"))
		case "/app.js":
			w.Write([]byte("js"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	f := HTTPFetcher{Base: upstream.URL + "/"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, ct, err := f.Fetch(ctx, "")
	if err != nil || string(body) != "root" || ct != "text/html" {
		t.Errorf("Fetch root: %q %q %v", body, ct, err)
	}
	body, ct, err = f.Fetch(ctx, "app.js")
	if err != nil || string(body) != "js" || ct == "" {
		t.Errorf("Fetch app.js: %q %q %v", body, ct, err)
	}
	if _, _, err := f.Fetch(ctx, "missing.css"); err == nil {
		t.Error("Expected error for 404")
	}
}
