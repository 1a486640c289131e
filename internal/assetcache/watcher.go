package assetcache

import (
	"context"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher refreshes cached assets when their files change in a site
// directory. It is used when serving with --dir.
type Watcher struct {
	cache   *Cache
	dir     string
	watcher *fsnotify.Watcher

	debounceDelay time.Duration
	mu            sync.Mutex
	pending       map[string]*time.Timer
	wg            sync.WaitGroup
}

// NewWatcher watches dir, and the directories of nested allow-listed paths.
func NewWatcher(cache *Cache, dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		cache:         cache,
		dir:           dir,
		watcher:       fw,
		debounceDelay: 50 * time.Millisecond,
		pending:       make(map[string]*time.Timer),
	}

	dirs := map[string]bool{dir: true}
	for _, key := range cache.keys {
		if sub := path.Dir(key); sub != "." {
			dirs[filepath.Join(dir, filepath.FromSlash(sub))] = true
		}
	}
	for d := range dirs {
		if err := fw.Add(d); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Run processes file events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()
	cfg := w.cache.config
	cfg.Log(1, "AssetCache: watching %s for changes", w.dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			cfg.Log(1, "AssetCache: watcher error: %v", err)
		}
	}
}

// keyFor maps a changed file to its cache key.
func (w *Watcher) keyFor(name string) (string, bool) {
	rel, err := filepath.Rel(w.dir, name)
	if err != nil {
		return "", false
	}
	key := Key(filepath.ToSlash(rel))
	if key == "index.html" {
		key = ""
	}
	return key, w.cache.allowed[key]
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	key, ok := w.keyFor(event.Name)
	if !ok {
		return
	}
	w.cache.config.Log(3, "AssetCache: event %s on %s", event.Op, event.Name)

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if err := w.cache.Evict(key); err != nil {
			w.cache.config.Log(1, "AssetCache: evict %q: %v", key, err)
		}
		return
	}
	w.queueRefresh(ctx, key)
}

// queueRefresh refreshes key once writes to it have settled.
func (w *Watcher) queueRefresh(ctx context.Context, key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[key]; ok {
		if t.Stop() {
			w.wg.Done()
		}
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounceDelay, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[key] == t {
			delete(w.pending, key)
		}
		w.mu.Unlock()
		if err := w.cache.Refresh(ctx, key); err != nil {
			w.cache.config.Log(1, "AssetCache: refresh %q: %v", key, err)
		}
	})
	w.pending[key] = t
}

func (w *Watcher) stop() {
	w.mu.Lock()
	for key, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, key)
	}
	w.mu.Unlock()
	w.wg.Wait()
	w.watcher.Close()
}
