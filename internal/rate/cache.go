package rate

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"
)

type cacheEntry struct {
	url     string
	status  int
	header  http.Header
	body    []byte
	expires time.Time
}

func cacheKey(req *http.Request, body []byte) string {
	sum := sha256.Sum256(body)
	return req.Method + " " + req.URL.String() + " " + hex.EncodeToString(sum[:])
}

// cached returns a stored response for req while it is fresh. Requests
// sent with Cache-Control: no-cache are never answered from the cache.
func (g *Guard) cached(req *http.Request, body []byte) *http.Response {
	if g.decl.CacheTTL() <= 0 || req.Header.Get("Cache-Control") == "no-cache" {
		return nil
	}
	key := cacheKey(req, body)

	g.mu.Lock()
	entry, ok := g.cache[key]
	g.mu.Unlock()
	if !ok || g.now().After(entry.expires) {
		return nil
	}
	return entry.response(req)
}

// remember stores successful GET responses. Any other method drops what is
// cached for its URL.
func (g *Guard) remember(req *http.Request, body []byte, resp *http.Response) (*http.Response, error) {
	if g.decl.CacheTTL() <= 0 || resp.StatusCode >= 300 {
		return resp, nil
	}
	if req.Method != http.MethodGet {
		g.forget(req.URL.String())
		return resp, nil
	}

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	entry := cacheEntry{
		url:     req.URL.String(),
		status:  resp.StatusCode,
		header:  resp.Header.Clone(),
		body:    data,
		expires: g.now().Add(g.decl.CacheTTL()),
	}

	g.mu.Lock()
	g.cache[cacheKey(req, body)] = entry
	g.mu.Unlock()

	return entry.response(req), nil
}

// forget drops cached responses for url after a write to it.
func (g *Guard) forget(url string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, entry := range g.cache {
		if entry.url == url {
			delete(g.cache, key)
		}
	}
}

func (e cacheEntry) response(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode: e.status,
		Status:     fmt.Sprintf("%d %s", e.status, http.StatusText(e.status)),
		Header:     e.header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(e.body)),
		Request:    req,
	}
}
