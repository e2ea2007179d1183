package tests

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/proxy"
)

// upstream is a test origin counting the requests it receives
type upstream struct {
	*httptest.Server
	hits atomic.Int64
}

// fixture_upstream creates a test upstream server. Paths under /missing answer 404.
func fixture_upstream() *upstream {
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		u.hits.Add(1)
		if strings.HasPrefix(requ.URL.Path, "/missing") {
			http.NotFound(w, requ)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message": "Hello from upstream", "path": "` + requ.URL.Path + `"}`))
	}))
	return u
}

// fixture_config creates a test config for a worker of the given version over the upstream
func fixture_config(upstreamURL, tempDir, version string, assets ...string) *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0 // Will be set by test server
	cfg.Cache = config.CacheConfig{
		Backend: config.BackendDisk,
		Folder:  tempDir,
	}
	cfg.Worker.Version = version
	cfg.Worker.Origin = upstreamURL + "/"
	cfg.Worker.Assets = assets
	cfg.Scope.Rules = []config.ScopeRule{{BaseURI: upstreamURL}}
	return &cfg
}

// fixture_proxy creates a proxy server with the given config and returns the server, test server, and HTTP client
func fixture_proxy(cfg *config.Config) (*proxy.Server, *httptest.Server, *http.Client, error) {
	proxyServer, err := proxy.New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	// Create test proxy HTTP server using goproxy
	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())

	// Create HTTP client that uses our proxy
	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}

	return proxyServer, proxyTestServer, client, nil
}
