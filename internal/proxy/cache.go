package proxy

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/iTrooz/offline-cache/internal/worker"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
)

// inScope determines if a request is handed to the worker based on rules
func (s *Server) inScope(requ *http.Request) bool {
	matched := false
	for _, rule := range s.rules {
		if rule.Match(requ) {
			matched = true
			break
		}
	}

	if s.config.Scope.Mode == "whitelist" {
		return matched
	} else {
		return !matched
	}
}

// handleRequest dispatches a fetch signal for proxied requests in scope
func (s *Server) handleRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if !s.inScope(requ) {
		logrus.Debugf("Out of scope, forwarding %s %s", requ.Method, requ.URL)
		return requ, nil
	}

	result, err := s.host.Fetch(requ.Context(), requ)
	if err != nil {
		logrus.Errorf("Failed to fetch %s: %v", requ.URL, err)
		return requ, goproxy.NewResponse(requ, goproxy.ContentTypeText, http.StatusBadGateway, err.Error())
	}

	markResponse(result)
	logrus.Infof("%s %s -> %d (%s)", requ.Method, requ.URL, result.Response.StatusCode, result.Response.Header.Get("X-Cache"))
	return requ, result.Response
}

// handleDirect serves requests addressed to the proxy itself as requests to the origin
func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	target := s.origin.ResolveReference(&url.URL{
		Path:     strings.TrimPrefix(r.URL.Path, "/"),
		RawQuery: r.URL.RawQuery,
	})

	requ := r.Clone(r.Context())
	requ.URL = target
	requ.Host = target.Host
	requ.RequestURI = ""

	result, err := s.host.Fetch(requ.Context(), requ)
	if err != nil {
		logrus.Errorf("Failed to fetch %s: %v", target, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer func() { _ = result.Response.Body.Close() }()

	markResponse(result)

	// Copy response headers
	for key, values := range result.Response.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(result.Response.StatusCode)
	if _, err := io.Copy(w, result.Response.Body); err != nil {
		logrus.Errorf("Failed to write response body: %v", err)
	}

	logrus.Infof("%s %s -> %d (%s)", r.Method, target, result.Response.StatusCode, result.Response.Header.Get("X-Cache"))
}

func markResponse(result worker.FetchResult) {
	if result.Response.Header == nil {
		result.Response.Header = make(http.Header)
	}
	if result.Cached {
		result.Response.Header.Set("X-Cache", "HIT")
		result.Response.Header.Set("X-Cache-Bucket", result.Bucket)
	} else {
		result.Response.Header.Set("X-Cache", "MISS")
	}
}
