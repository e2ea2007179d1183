// Stores HTTP responses in cache buckets, keyed by request URL
package httpcache

import "github.com/iTrooz/offline-cache/internal/cache"

func New(bucket cache.Bucket) *HTTPCache {
	return &HTTPCache{
		cache: bucket,
	}
}
