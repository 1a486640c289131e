package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zot/snippets/internal/assetcache"
	"github.com/zot/snippets/internal/config"
	"github.com/zot/snippets/internal/notice"
	"github.com/zot/snippets/internal/repository"
	"github.com/zot/snippets/internal/storage"
)

// ShutdownTimeout bounds a graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// Server is the snippets server.
type Server struct {
	config       *config.Config
	store        *storage.Handle
	repo         *repository.Repository
	notices      *notice.Board
	cache        *assetcache.Cache
	watcher      *assetcache.Watcher
	svc          *ChanSvc
	httpServer   *http.Server
	httpEndpoint *HTTPEndpoint
	wsEndpoint   *WebSocketEndpoint
	listener     net.Listener
}

// New creates a server with the given configuration. site is the embedded
// site, used unless cfg.Server.Dir is set.
func New(cfg *config.Config, site fs.FS) (*Server, error) {
	store, err := storage.Open(StorageOptions(cfg))
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:  cfg,
		store:   store,
		repo:    repository.New(store),
		notices: notice.NewBoard(cfg.Notice.TTL.Duration()),
		svc:     NewChanSvc(),
	}
	RunSvc(s.svc)

	s.wsEndpoint = NewWebSocketEndpoint(cfg, s.notices)
	s.httpEndpoint = NewHTTPEndpoint(cfg, s.repo, s.notices, s.wsEndpoint, s.svc)

	s.setupSite(cfg, site)
	return s, nil
}

// StorageOptions converts the storage settings.
func StorageOptions(cfg *config.Config) storage.Options {
	return storage.Options{
		Type:   cfg.Storage.Type,
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.Path,
		URL:    cfg.Storage.URL,
	}
}

// SiteFetcher returns the origin the asset cache fills from: the upstream
// URL if configured, else the --dir directory, else site.
func SiteFetcher(cfg *config.Config, site fs.FS) assetcache.Fetcher {
	switch {
	case cfg.Cache.Origin != "":
		return assetcache.HTTPFetcher{Base: cfg.Cache.Origin}
	case cfg.Server.Dir != "":
		return assetcache.FSFetcher{FS: os.DirFS(cfg.Server.Dir)}
	}
	return assetcache.FSFetcher{FS: site}
}

// setupSite configures the site filesystem and the asset cache.
func (s *Server) setupSite(cfg *config.Config, site fs.FS) {
	if cfg.Server.Dir != "" {
		s.httpEndpoint.SetStaticDir(cfg.Server.Dir)
		s.config.Log(0, "Serving site from directory: %s", cfg.Server.Dir)
	} else if site != nil {
		s.httpEndpoint.SetEmbeddedSite(site)
		s.config.Log(0, "Serving embedded site")
	} else {
		s.config.Log(0, "Warning: no site available (not embedded and no --dir specified)")
		return
	}

	if cfg.Cache.Name == "" {
		return
	}
	s.cache = assetcache.New(cfg, SiteFetcher(cfg, site))

	// A site directory may have changed since the last run, so reinstall it.
	if cfg.Server.Dir != "" || s.cache.Load() != nil {
		if err := s.cache.Install(context.Background()); err != nil {
			s.config.Log(0, "Warning: asset cache install failed: %v", err)
			s.cache = nil
			return
		}
	}
	if _, err := s.cache.Activate(); err != nil {
		s.config.Log(0, "Warning: asset cache activate failed: %v", err)
	}
	s.httpEndpoint.SetAssetCache(s.cache)

	if cfg.Server.Dir != "" && cfg.Cache.Origin == "" {
		w, err := assetcache.NewWatcher(s.cache, cfg.Server.Dir)
		if err != nil {
			s.config.Log(0, "Warning: cannot watch %s: %v", cfg.Server.Dir, err)
			return
		}
		s.watcher = w
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpEndpoint
}

// Repository returns the record repository.
func (s *Server) Repository() *repository.Repository {
	return s.repo
}

// Notices returns the notice board.
func (s *Server) Notices() *notice.Board {
	return s.notices
}

// StartHTTP binds the HTTP listener on the specified port and returns the
// full base URL. Port 0 picks a free port.
func (s *Server) StartHTTP(port int) (string, error) {
	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	// Update port in config if it was 0
	if port == 0 {
		_, portStr, _ := net.SplitHostPort(listener.Addr().String())
		s.config.Server.Port, _ = strconv.Atoi(portStr)
	}

	host := s.config.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, s.config.Server.Port), nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if _, err := s.StartHTTP(s.config.Server.Port); err != nil {
			return err
		}
	}
	s.httpServer = &http.Server{
		Handler:           s.httpEndpoint,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.config.Log(0, "HTTP server listening on %s", s.listener.Addr())
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	if s.watcher != nil {
		g.Go(func() error {
			return s.watcher.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown gracefully shuts down the server and releases the store.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		errs = append(errs, s.httpServer.Shutdown(ctx))
	}
	s.wsEndpoint.Close()
	s.notices.Close()
	s.svc.Close()
	errs = append(errs, s.store.Close())
	s.config.Log(0, "Server stopped")
	return errors.Join(errs...)
}
