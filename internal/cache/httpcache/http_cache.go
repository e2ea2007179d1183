package httpcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/iTrooz/offline-cache/internal/cache"
)

// HTTPCache stores responses of one bucket
type HTTPCache struct {
	cache cache.Bucket
}

// Name returns the name of the underlying bucket
func (d *HTTPCache) Name() string {
	return d.cache.Name()
}

// GenerateKey builds a unique key from the request URL.
// Only the URL takes part in matching: headers and body are ignored.
func GenerateKey(request *http.Request) (string, error) {
	if request.URL == nil || request.URL.Host == "" {
		return "", fmt.Errorf("request URL must be absolute")
	}

	// Hash query parameters
	hash := sha256.Sum256([]byte(request.URL.RawQuery))
	queryHash := hex.EncodeToString(hash[:])[:8]

	// Build path: host/path/METHOD[_d][_queryhash].bin
	host := strings.TrimSuffix(strings.TrimSuffix(request.URL.Host, ":80"), ":443")
	pathParts := []string{host}

	urlPath := request.URL.EscapedPath()
	if urlPath != "" && urlPath != "/" {
		segments, err := keySegments(strings.Trim(urlPath, "/"))
		if err != nil {
			return "", err
		}
		pathParts = append(pathParts, segments...)
	}

	filename := http.MethodGet
	// "/app/" and "/app" are distinct URLs
	if strings.HasSuffix(urlPath, "/") && urlPath != "/" {
		filename += "_d"
	}
	if request.URL.RawQuery != "" {
		filename += "_q" + queryHash
	}
	filename += ".bin"

	pathParts = append(pathParts, filename)

	key := path.Join(pathParts...)
	if !strings.HasPrefix(key, host+"/") {
		return "", fmt.Errorf("request path escapes its host: %s", request.URL.Path)
	}
	return key, nil
}

// keySegments rewrites each path segment in one canonical escaped form,
// so "/a%2Fb" and "/a/b" get different keys. Segments starting with the
// method name are escaped so they never clash with an entry file.
func keySegments(escapedPath string) ([]string, error) {
	var segments []string
	for _, segment := range strings.Split(escapedPath, "/") {
		decoded, err := url.PathUnescape(segment)
		if err != nil {
			return nil, fmt.Errorf("invalid request path segment %q: %w", segment, err)
		}
		if strings.HasPrefix(decoded, http.MethodGet) {
			segments = append(segments, "%47"+url.PathEscape(decoded[1:]))
		} else {
			segments = append(segments, url.PathEscape(decoded))
		}
	}
	return segments, nil
}

func (d *HTTPCache) SetReq(ctx context.Context, request *http.Request, resp *http.Response) error {
	cacheKey, err := GenerateKey(request)
	if err != nil {
		return fmt.Errorf("failed to generate cache key: %w", err)
	}

	return d.SetKey(ctx, cacheKey, resp)
}

func (d *HTTPCache) SetKey(ctx context.Context, requestKey string, resp *http.Response) error {
	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := d.cache.Set(ctx, requestKey, data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// GetReq returns the stored response for req, or nil on a miss.
// Only GET requests can match.
func (d *HTTPCache) GetReq(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return nil, nil
	}

	requestKey, err := GenerateKey(req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cache key: %w", err)
	}

	resp, err := d.GetKey(ctx, requestKey)
	if err != nil {
		return nil, err
	}
	// Handle no cache hit
	if resp == nil {
		return nil, nil
	}

	// Associate the original request with the response
	resp.Request = req
	return resp, nil
}

func (d *HTTPCache) GetKey(ctx context.Context, requestKey string) (*http.Response, error) {
	data, err := d.cache.Get(ctx, requestKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	resp, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return resp, nil
}

// Keys lists the stored request keys
func (d *HTTPCache) Keys(ctx context.Context) ([]string, error) {
	return d.cache.Keys(ctx)
}
