package assetcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// TestWatcherRefreshesChangedFile verifies an edited site file replaces its cached copy
func TestWatcherRefreshesChangedFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	site := t.TempDir()
	for name, body := range map[string]string{
		"index.html": "<html>v1</html>",
		"style.css":  "body{}",
		"app.js":     "v1",
	} {
		if err := os.WriteFile(filepath.Join(site, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := testConfig(t)
	c := New(cfg, FSFetcher{FS: os.DirFS(site)})
	if err := c.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	w, err := NewWatcher(c, site)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.debounceDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	if err := os.WriteFile(filepath.Join(site, "app.js"), []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		body, _, _ := c.Match("/app.js")
		if string(body) == "v2" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Cached app.js was not refreshed, still %q", body)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := os.Remove(filepath.Join(site, "style.css")); err != nil {
		t.Fatal(err)
	}
	deadline = time.Now().Add(5 * time.Second)
	for {
		if _, _, ok := c.Match("/style.css"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Removed style.css is still cached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

// TestWatcherIgnoresUnlistedFiles verifies keyFor respects the allow-list
func TestWatcherIgnoresUnlistedFiles(t *testing.T) {
	site := t.TempDir()
	c := New(testConfig(t), FSFetcher{FS: os.DirFS(site)})
	w, err := NewWatcher(c, site)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.stop()

	if key, ok := w.keyFor(filepath.Join(site, "index.html")); !ok || key != "" {
		t.Errorf("index.html: got %q %v", key, ok)
	}
	if _, ok := w.keyFor(filepath.Join(site, "notes.txt")); ok {
		t.Error("notes.txt should be ignored")
	}
}
