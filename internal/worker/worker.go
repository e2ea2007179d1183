// Offline cache worker: install, fetch and activate signal handlers
package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/cache/httpcache"
	"github.com/iTrooz/offline-cache/internal/config"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Options describes one cache generation
type Options struct {
	// Name of the bucket owned by this worker
	Version string
	// Base URL of relative assets
	Origin *url.URL
	Assets []string
	// Delete other buckets on activation
	Cleanup bool
	// Maximum parallel asset fetches during install
	Concurrency int
}

// OptionsFromConfig builds worker options from a validated configuration
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	origin, err := cfg.GetOrigin()
	if err != nil {
		return Options{}, fmt.Errorf("invalid worker origin: %w", err)
	}
	return Options{
		Version:     cfg.Worker.Version,
		Origin:      origin,
		Assets:      cfg.Worker.Assets,
		Cleanup:     cfg.Worker.Cleanup,
		Concurrency: cfg.Worker.Concurrency,
	}, nil
}

// Scope is the state shared by every signal: the buckets and the network
type Scope struct {
	Caches  *httpcache.Storage
	Network Fetcher
}

func NewScope(storage cache.Storage, network Fetcher) *Scope {
	return &Scope{
		Caches:  httpcache.NewStorage(storage),
		Network: network,
	}
}

// Worker handles the signals of one cache generation. It holds no mutable state.
type Worker struct {
	opts   Options
	assets []*url.URL
	log    *logrus.Entry
}

// AssetError reports the asset that made an install fail
type AssetError struct {
	URL string
	Err error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("failed to cache asset %s: %v", e.URL, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// InstallResult summarizes a successful install
type InstallResult struct {
	Bucket string
	Assets int
	Bytes  int64
}

// FetchResult is the answer to one intercepted request
type FetchResult struct {
	Response *http.Response
	// Cached is true when the response comes from a bucket
	Cached bool
	// Bucket holding the response, empty for live responses
	Bucket string
}

// ActivateResult lists what activation did to other buckets
type ActivateResult struct {
	Kept    string
	Deleted []string
	Failed  map[string]error
}

// New resolves the asset list against the origin
func New(opts Options) (*Worker, error) {
	if opts.Version == "" {
		return nil, fmt.Errorf("worker version is required")
	}
	if opts.Origin == nil || !opts.Origin.IsAbs() {
		return nil, fmt.Errorf("worker origin must be an absolute URL")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	seen := make(map[string]string, len(opts.Assets))
	assets := make([]*url.URL, 0, len(opts.Assets))
	for _, asset := range opts.Assets {
		ref, err := url.Parse(asset)
		if err != nil {
			return nil, fmt.Errorf("invalid asset %q: %w", asset, err)
		}
		resolved := opts.Origin.ResolveReference(ref)
		resolved.Fragment = ""

		key, err := httpcache.GenerateKey(&http.Request{Method: http.MethodGet, URL: resolved})
		if err != nil {
			return nil, fmt.Errorf("invalid asset %q: %w", asset, err)
		}
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("assets %q and %q resolve to the same request", prev, asset)
		}
		seen[key] = asset
		assets = append(assets, resolved)
	}

	return &Worker{
		opts:   opts,
		assets: assets,
		log:    logrus.WithField("version", opts.Version),
	}, nil
}

// Version returns the name of the bucket owned by the worker
func (w *Worker) Version() string {
	return w.opts.Version
}

// AssetURLs returns the resolved asset list
func (w *Worker) AssetURLs() []string {
	urls := make([]string, 0, len(w.assets))
	for _, asset := range w.assets {
		urls = append(urls, asset.String())
	}
	return urls
}

// Install fetches every asset and stores them in the worker's bucket.
// Nothing is stored unless every asset could be fetched.
func (w *Worker) Install(ctx context.Context, scope *Scope) *Task[InstallResult] {
	return Go(func() (InstallResult, error) {
		bucket, err := scope.Caches.Open(ctx, w.opts.Version)
		if err != nil {
			return InstallResult{}, fmt.Errorf("failed to open bucket %s: %w", w.opts.Version, err)
		}

		requests := make([]*http.Request, len(w.assets))
		responses := make([]*http.Response, len(w.assets))
		sizes := make([]int64, len(w.assets))

		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(w.opts.Concurrency)
		for i, asset := range w.assets {
			eg.Go(func() error {
				req, err := http.NewRequestWithContext(egCtx, http.MethodGet, asset.String(), nil)
				if err != nil {
					return &AssetError{URL: asset.String(), Err: err}
				}
				resp, size, err := fetchAsset(egCtx, scope, req)
				if err != nil {
					return &AssetError{URL: asset.String(), Err: err}
				}
				requests[i], responses[i], sizes[i] = req, resp, size
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			w.log.Errorf("Install failed: %v", err)
			return InstallResult{}, err
		}

		result := InstallResult{Bucket: bucket.Name()}
		for i, resp := range responses {
			if err := bucket.SetReq(ctx, requests[i], resp); err != nil {
				return result, &AssetError{URL: requests[i].URL.String(), Err: err}
			}
			result.Assets++
			result.Bytes += sizes[i]
		}

		w.log.Infof("Installed %d assets into bucket %s", result.Assets, result.Bucket)
		return result, nil
	})
}

// fetchAsset performs a live fetch and buffers the body in memory
func fetchAsset(ctx context.Context, scope *Scope, req *http.Request) (*http.Response, int64, error) {
	resp, err := scope.Network.Fetch(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	defer func(body io.ReadCloser) { _ = body.Close() }(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, int64(len(body)), nil
}

// Fetch answers req from any bucket, or from the network on a miss.
// Live responses are never written back to a bucket.
func (w *Worker) Fetch(ctx context.Context, scope *Scope, req *http.Request) *Task[FetchResult] {
	return Go(func() (FetchResult, error) {
		resp, bucket, err := scope.Caches.Match(ctx, req)
		if err != nil {
			// Lookup errors fall back to the network
			w.log.Errorf("Failed to look up %s: %v", req.URL, err)
		}
		if resp != nil {
			w.log.Debugf("Serving %s from bucket %s", req.URL, bucket)
			return FetchResult{Response: resp, Cached: true, Bucket: bucket}, nil
		}

		resp, err = scope.Network.Fetch(ctx, req)
		if err != nil {
			return FetchResult{}, fmt.Errorf("network fetch of %s failed: %w", req.URL, err)
		}
		w.log.Debugf("Fetched %s from network -> %d", req.URL, resp.StatusCode)
		return FetchResult{Response: resp}, nil
	})
}

// Activate deletes the buckets of other versions when cleanup is enabled
func (w *Worker) Activate(ctx context.Context, scope *Scope) *Task[ActivateResult] {
	if !w.opts.Cleanup {
		w.log.Debugf("Bucket cleanup disabled, keeping other versions")
		return Resolved(ActivateResult{Kept: w.opts.Version})
	}
	return w.Cleanup(ctx, scope)
}

// Cleanup deletes every bucket but the worker's own. Each deletion is
// independent: failures are logged and reported, never returned as the task error.
func (w *Worker) Cleanup(ctx context.Context, scope *Scope) *Task[ActivateResult] {
	return Go(func() (ActivateResult, error) {
		result := ActivateResult{Kept: w.opts.Version, Failed: map[string]error{}}

		names, err := scope.Caches.Names(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to list buckets: %w", err)
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, name := range names {
			if name == w.opts.Version {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				deleted, err := scope.Caches.Delete(ctx, name)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					w.log.Errorf("Failed to delete bucket %s: %v", name, err)
					result.Failed[name] = err
				case deleted:
					w.log.Infof("Deleted stale bucket %s", name)
					result.Deleted = append(result.Deleted, name)
				}
			}()
		}
		wg.Wait()

		sort.Strings(result.Deleted)
		return result, nil
	})
}
