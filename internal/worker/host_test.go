package worker

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostWithoutWorkerUsesNetwork(t *testing.T) {
	ctx := context.Background()
	origin, hits := fixture_origin(t)
	host := NewHost(NewScope(cache.NewMemory(), NewHTTPFetcher(0)))
	assert.Nil(t, host.Active())

	req, _ := http.NewRequest(http.MethodGet, origin.URL+"/index.html", nil)
	result, err := host.Fetch(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, "origin /index.html", readBody(t, result.Response))
	assert.Equal(t, int64(1), hits.Load())
}

func TestHostRegisterInstallsAndActivates(t *testing.T) {
	ctx := context.Background()
	origin, hits := fixture_origin(t)
	storage := cache.NewMemory()
	_, err := storage.Open(ctx, "app-v0")
	require.NoError(t, err)

	host := NewHost(NewScope(storage, NewHTTPFetcher(0)))
	w := newWorker(t, origin.URL, "app-v1", []string{"./index.html"}, true)

	require.NoError(t, host.Register(ctx, w))
	assert.Same(t, w, host.Active())

	names, err := storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app-v1"}, names)

	before := hits.Load()
	req, _ := http.NewRequest(http.MethodGet, origin.URL+"/index.html", nil)
	result, err := host.Fetch(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.Equal(t, "origin /index.html", readBody(t, result.Response))
	assert.Equal(t, before, hits.Load())
}

func TestHostFailedInstallKeepsPreviousWorker(t *testing.T) {
	ctx := context.Background()
	origin, _ := fixture_origin(t)
	storage := cache.NewMemory()
	host := NewHost(NewScope(storage, NewHTTPFetcher(0)))

	v1 := newWorker(t, origin.URL, "app-v1", []string{"./index.html"}, true)
	require.NoError(t, host.Register(ctx, v1))

	v2 := newWorker(t, origin.URL, "app-v2", []string{"./index.html", "./missing.css"}, true)
	err := host.Register(ctx, v2)
	require.Error(t, err)

	var assetErr *AssetError
	assert.ErrorAs(t, err, &assetErr)
	assert.Same(t, v1, host.Active())

	// The failed generation never ran its cleanup
	has, err := storage.Has(ctx, "app-v1")
	require.NoError(t, err)
	assert.True(t, has)
}

type trackedBody struct {
	io.Reader
	closed atomic.Bool
}

func (b *trackedBody) Close() error {
	b.closed.Store(true)
	return nil
}

func TestHostFetchClosesAbandonedResponse(t *testing.T) {
	release := make(chan struct{})
	body := &trackedBody{Reader: strings.NewReader("late")}
	// Answers only once released, whatever the request context says
	network := FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		<-release
		return &http.Response{StatusCode: http.StatusOK, Body: body}, nil
	})
	host := NewHost(NewScope(cache.NewMemory(), network))
	require.NoError(t, host.Register(context.Background(), newWorker(t, "https://app.example.com", "app-v1", nil, true)))

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequest(http.MethodGet, "https://app.example.com/slow.js", nil)
	done := make(chan error, 1)
	go func() {
		_, err := host.Fetch(ctx, req)
		done <- err
	}()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	assert.Eventually(t, body.closed.Load, time.Second, 10*time.Millisecond)
}
