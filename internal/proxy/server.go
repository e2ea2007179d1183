package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/worker"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
)

// Server hosts the offline cache worker behind an HTTP proxy
type Server struct {
	config  *config.Config
	proxy   *goproxy.ProxyHttpServer
	storage cache.Storage
	host    *worker.Host
	worker  *worker.Worker
	origin  *url.URL
	rules   []Rule
}

// New creates a new proxy server with the configured storage backend
func New(cfg *config.Config) (*Server, error) {
	storage, err := cache.NewStorage(cfg.Cache.Backend, cfg.Cache.Folder)
	if err != nil {
		return nil, err
	}

	s, err := NewWithStorage(cfg, storage)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}
	return s, nil
}

// NewWithStorage creates a new proxy server on top of an opened storage
func NewWithStorage(cfg *config.Config, storage cache.Storage) (*Server, error) {
	timeout, err := cfg.GetNetworkTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid network timeout: %w", err)
	}

	opts, err := worker.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	w, err := worker.New(opts)
	if err != nil {
		return nil, fmt.Errorf("invalid worker configuration: %w", err)
	}

	s := &Server{
		config:  cfg,
		proxy:   goproxy.NewProxyHttpServer(),
		storage: storage,
		host:    worker.NewHost(worker.NewScope(storage, worker.NewHTTPFetcher(timeout))),
		worker:  w,
		origin:  opts.Origin,
		rules:   rulesFromConfig(cfg),
	}

	s.proxy.Logger = logrus.StandardLogger()
	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.DebugLevel)
	s.proxy.CertStore = newCertStore()
	s.proxy.NonproxyHandler = http.HandlerFunc(s.handleDirect)

	if cfg.Server.HTTPS.Enabled {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}
	s.proxy.OnRequest().DoFunc(s.handleRequest)

	return s, nil
}

// GetProxy returns the HTTP handler of the proxy (exported for testing)
func (s *Server) GetProxy() http.Handler {
	return s.proxy
}

// Host returns the signal dispatcher
func (s *Server) Host() *worker.Host {
	return s.host
}

// Register installs and activates the configured worker
func (s *Server) Register(ctx context.Context) error {
	return s.host.Register(ctx, s.worker)
}

// Start registers the worker, then serves until ctx is done.
// A failed registration is logged and requests go to the network.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Register(ctx); err != nil {
		logrus.Errorf("Worker %s not activated: %v", s.worker.Version(), err)
	}

	logrus.Infof("Starting offline cache proxy on port %d", s.config.Server.Port)
	logrus.Infof("Cache backend: %s (%s)", s.config.Cache.Backend, s.config.Cache.Folder)
	logrus.Infof("Worker version: %s, origin: %s", s.worker.Version(), s.origin)
	logrus.Infof("Scope mode: %s", s.config.Scope.Mode)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.proxy,
		ReadHeaderTimeout: 30 * time.Second,
	}

	if port := s.config.Server.HTTPS.TransparentPort; port != 0 {
		go func() {
			if err := s.StartTransparentHTTPS(ctx, fmt.Sprintf(":%d", port)); err != nil {
				logrus.Errorf("Transparent HTTPS failed: %v", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("Failed to shut down server: %v", err)
		}
	}()

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the cache storage
func (s *Server) Close() error {
	return s.storage.Close()
}
