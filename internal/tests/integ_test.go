package tests

import (
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, client *http.Client, target string) (*http.Response, string) {
	t.Helper()
	resp, err := client.Get(target)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestProxyIntegration(t *testing.T) {
	upstream := fixture_upstream()
	defer upstream.Close()

	tempDir := t.TempDir()
	cfg := fixture_config(upstream.URL, tempDir, "app-v1", "./", "./app.js")

	proxyServer, proxyTestServer, client, err := fixture_proxy(cfg)
	if err != nil {
		t.Fatalf("Failed to create proxy server: %v", err)
	}
	defer proxyTestServer.Close()
	defer func() { _ = proxyServer.Close() }()

	t.Run("no worker - network", func(t *testing.T) {
		resp, body := get(t, client, upstream.URL+"/app.js")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status 200, got %d", resp.StatusCode)
		}
		if resp.Header.Get("X-Cache") != "MISS" {
			t.Errorf("Expected X-Cache: MISS, got %s", resp.Header.Get("X-Cache"))
		}
		if !strings.Contains(body, "Hello from upstream") {
			t.Errorf("Unexpected response body: %s", body)
		}
	})

	require.NoError(t, proxyServer.Register(t.Context()))

	t.Run("installed asset - cache hit", func(t *testing.T) {
		before := upstream.hits.Load()
		resp, body := get(t, client, upstream.URL+"/app.js")

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
		assert.Equal(t, "app-v1", resp.Header.Get("X-Cache-Bucket"))
		assert.Contains(t, body, `"path": "/app.js"`)
		assert.Equal(t, before, upstream.hits.Load(), "a hit must not reach the network")
	})

	t.Run("other URL - network, never written back", func(t *testing.T) {
		for range 2 {
			resp, _ := get(t, client, upstream.URL+"/api/data")
			assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
		}
	})

	t.Run("headers do not affect matching", func(t *testing.T) {
		requ, err := http.NewRequest("GET", upstream.URL+"/app.js", nil)
		require.NoError(t, err)
		requ.Header.Set("Accept", "text/plain")
		requ.Header.Set("Cookie", "session=abc")

		resp, err := client.Do(requ)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	})

	t.Run("verify cache file exists", func(t *testing.T) {
		upstreamURL, _ := url.Parse(upstream.URL)
		expectedCachePath := filepath.Join(tempDir, "app-v1", upstreamURL.Host, "app.js", "GET.bin")

		if _, err := os.Stat(expectedCachePath); err != nil {
			t.Errorf("Cache file should exist at %s", expectedCachePath)
		}
	})
}

func TestProxyIntegrationUpgrade(t *testing.T) {
	upstream := fixture_upstream()
	defer upstream.Close()

	tempDir := t.TempDir()

	v1, v1TestServer, _, err := fixture_proxy(fixture_config(upstream.URL, tempDir, "app-v1", "./"))
	require.NoError(t, err)
	v1TestServer.Close()
	require.NoError(t, v1.Register(t.Context()))
	require.NoError(t, v1.Close())

	v2, v2TestServer, client, err := fixture_proxy(fixture_config(upstream.URL, tempDir, "app-v2", "./"))
	require.NoError(t, err)
	defer v2TestServer.Close()
	defer func() { _ = v2.Close() }()
	require.NoError(t, v2.Register(t.Context()))

	// Activation of v2 deleted the v1 bucket
	_, err = os.Stat(filepath.Join(tempDir, "app-v1"))
	assert.True(t, os.IsNotExist(err), "bucket app-v1 should be deleted")

	resp, _ := get(t, client, upstream.URL+"/")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, "app-v2", resp.Header.Get("X-Cache-Bucket"))
}

func TestProxyIntegrationFailedInstall(t *testing.T) {
	upstream := fixture_upstream()
	defer upstream.Close()

	tempDir := t.TempDir()
	cfg := fixture_config(upstream.URL, tempDir, "app-v1", "./app.js", "./missing.js")

	proxyServer, proxyTestServer, client, err := fixture_proxy(cfg)
	require.NoError(t, err)
	defer proxyTestServer.Close()
	defer func() { _ = proxyServer.Close() }()

	assert.Error(t, proxyServer.Register(t.Context()))
	assert.Nil(t, proxyServer.Host().Active())

	// Nothing was stored, requests pass through to the network
	resp, _ := get(t, client, upstream.URL+"/app.js")
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

	resp, _ = get(t, client, upstream.URL+"/missing.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProxyIntegrationOutOfScope(t *testing.T) {
	upstream := fixture_upstream()
	defer upstream.Close()

	cfg := fixture_config(upstream.URL, t.TempDir(), "app-v1", "./")
	cfg.Scope.Mode = "blacklist"

	proxyServer, proxyTestServer, client, err := fixture_proxy(cfg)
	require.NoError(t, err)
	defer proxyTestServer.Close()
	defer func() { _ = proxyServer.Close() }()
	require.NoError(t, proxyServer.Register(t.Context()))

	// The upstream is blacklisted: goproxy forwards without the worker
	resp, body := get(t, client, upstream.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-Cache"))
	assert.Contains(t, body, "Hello from upstream")
}
