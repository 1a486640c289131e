// Package assetcache serves the site's pinned static files from a local,
// versioned cache, falling back to the network for anything else.
//
// Each cache generation lives in its own directory under the cache root,
// named after the cache name. Installing fills the current generation from
// the origin; activating deletes every other generation.
package assetcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zot/snippets/internal/config"
)

const manifestFile = "manifest.json"

// ErrNotAllowed is returned for paths outside the allow-list.
var ErrNotAllowed = errors.New("path is not in the cache allow-list")

// Entry describes one cached asset.
type Entry struct {
	Key         string    `json:"key"`
	File        string    `json:"file"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Stored      time.Time `json:"stored"`
}

type manifest struct {
	Name    string           `json:"name"`
	Entries map[string]Entry `json:"entries"`
}

// Cache is one named generation of cached site assets.
type Cache struct {
	config  *config.Config
	name    string
	root    string
	allowed map[string]bool
	keys    []string
	origin  Fetcher

	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates a cache from the cache settings in cfg. Nothing is read from
// disk until Load or Install.
func New(cfg *config.Config, origin Fetcher) *Cache {
	c := &Cache{
		config:  cfg,
		name:    cfg.Cache.Name,
		root:    cfg.Cache.Dir,
		allowed: make(map[string]bool),
		origin:  origin,
		entries: make(map[string]Entry),
	}
	for _, p := range cfg.Cache.Paths {
		key := Key(p)
		if !c.allowed[key] {
			c.allowed[key] = true
			c.keys = append(c.keys, key)
		}
	}
	return c
}

// Key normalizes a site path or request path: "./", "/" and "" are the
// site root (key ""), "./app.js" and "/app.js" are "app.js".
func Key(p string) string {
	switch {
	case p == ".":
		p = ""
	case strings.HasPrefix(p, "./"):
		p = p[2:]
	}
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// Name returns the cache generation name.
func (c *Cache) Name() string { return c.name }

// Allowed reports whether p is in the allow-list.
func (c *Cache) Allowed(p string) bool { return c.allowed[Key(p)] }

// dir is the directory of the current generation.
func (c *Cache) dir() string { return filepath.Join(c.root, c.name) }

// fileName maps a key to a flat file name. The prefix keeps the root key
// from producing an empty name.
func fileName(key string) string {
	return "_" + url.PathEscape(key)
}

// Install fetches every allow-listed asset into a fresh generation. Either
// all assets are stored or the generation is left as it was.
func (c *Cache) Install(ctx context.Context) error {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("create cache root: %w", err)
	}
	tmp, err := os.MkdirTemp(c.root, "."+c.name+"-install-")
	if err != nil {
		return fmt.Errorf("create cache generation: %w", err)
	}
	defer os.RemoveAll(tmp)

	m := manifest{Name: c.name, Entries: make(map[string]Entry, len(c.keys))}
	for _, key := range c.keys {
		body, ct, err := c.origin.Fetch(ctx, key)
		if err != nil {
			return fmt.Errorf("install %q: %w", key, err)
		}
		entry, err := writeEntry(tmp, key, body, ct)
		if err != nil {
			return fmt.Errorf("install %q: %w", key, err)
		}
		m.Entries[key] = entry
	}
	if err := writeManifest(tmp, m); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.RemoveAll(c.dir()); err != nil {
		return fmt.Errorf("replace cache generation: %w", err)
	}
	if err := os.Rename(tmp, c.dir()); err != nil {
		return fmt.Errorf("replace cache generation: %w", err)
	}
	c.entries = m.Entries
	c.config.Log(1, "AssetCache: installed %s (%d assets)", c.name, len(m.Entries))
	return nil
}

// Load reads the current generation from disk.
func (c *Cache) Load() error {
	data, err := os.ReadFile(filepath.Join(c.dir(), manifestFile))
	if err != nil {
		return err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("read cache manifest: %w", err)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]Entry)
	}
	c.mu.Lock()
	c.entries = m.Entries
	c.mu.Unlock()
	return nil
}

// Activate deletes every generation other than the current one and returns
// the deleted names.
func (c *Cache) Activate() ([]string, error) {
	generations, err := c.Generations()
	if err != nil {
		return nil, err
	}
	var deleted []string
	var errs []error
	for _, name := range generations {
		if name == c.name {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.root, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		c.config.Log(0, "AssetCache: deleted stale generation %s", name)
		deleted = append(deleted, name)
	}
	return deleted, errors.Join(errs...)
}

// Generations lists the generation names on disk, sorted.
func (c *Cache) Generations() ([]string, error) {
	dirEntries, err := os.ReadDir(c.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range dirEntries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Entries returns the cached assets, sorted by key.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Match returns the cached body for p.
func (c *Cache) Match(p string) (body []byte, contentType string, ok bool) {
	key := Key(p)
	c.mu.RLock()
	entry, found := c.entries[key]
	c.mu.RUnlock()
	if !found {
		return nil, "", false
	}
	body, err := os.ReadFile(filepath.Join(c.dir(), entry.File))
	if err != nil {
		c.config.Log(1, "AssetCache: cached file for %q unreadable: %v", key, err)
		return nil, "", false
	}
	return body, entry.ContentType, true
}

// Put stores body for an allow-listed path in the current generation.
func (c *Cache) Put(p string, body []byte, contentType string) error {
	key := Key(p)
	if !c.allowed[key] {
		return fmt.Errorf("put %q: %w", p, ErrNotAllowed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.dir(), 0o755); err != nil {
		return err
	}
	entry, err := writeEntry(c.dir(), key, body, contentType)
	if err != nil {
		return err
	}
	c.entries[key] = entry
	return c.saveLocked()
}

// Evict removes p from the current generation.
func (c *Cache) Evict(p string) error {
	key := Key(p)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	delete(c.entries, key)
	if err := os.Remove(filepath.Join(c.dir(), entry.File)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return c.saveLocked()
}

// Refresh fetches p from the origin again and stores it.
func (c *Cache) Refresh(ctx context.Context, p string) error {
	key := Key(p)
	if !c.allowed[key] {
		return fmt.Errorf("refresh %q: %w", p, ErrNotAllowed)
	}
	body, ct, err := c.origin.Fetch(ctx, key)
	if err != nil {
		return fmt.Errorf("refresh %q: %w", key, err)
	}
	c.config.Log(3, "AssetCache: refreshed %q", key)
	return c.Put(key, body, ct)
}

func (c *Cache) saveLocked() error {
	return writeManifest(c.dir(), manifest{Name: c.name, Entries: c.entries})
}

// Handler serves allow-listed GET and HEAD requests from the cache and sends
// everything else to next.
func (c *Cache) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		body, ct, ok := c.Match(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		c.config.Log(3, "AssetCache: hit %s", r.URL.Path)
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Header().Set("X-Cache", "hit")
		if r.Method == http.MethodHead {
			return
		}
		if _, err := w.Write(body); err != nil {
			c.config.Log(3, "AssetCache: write %s: %v", r.URL.Path, err)
		}
	})
}

func writeEntry(dir, key string, body []byte, contentType string) (Entry, error) {
	name := fileName(key)
	if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
		return Entry{}, err
	}
	return Entry{
		Key:         key,
		File:        name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Stored:      time.Now().UTC(),
	}, nil
}

func writeManifest(dir string, m manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0o644); err != nil {
		return fmt.Errorf("write cache manifest: %w", err)
	}
	return nil
}
