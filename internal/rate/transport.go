package rate

import (
	"bytes"
	"io"
	"net/http"
)

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: next, guard: newGuard(decl)}
	return &client
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	g := rt.guard
	provider := g.decl.ProviderName()

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	decision := g.ShouldCall(g.now())
	if !decision.Allowed {
		blockedTotal.WithLabelValues(provider, decision.Reason).Inc()
		if cached := g.cached(req, body); cached != nil {
			return cached, nil
		}
		return nil, RateLimitError{Provider: provider, Reason: decision.Reason, RetryAt: decision.RetryAt}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	requestsTotal.WithLabelValues(provider, req.Method).Inc()
	g.RecordResponse(resp.StatusCode, resp.Header)
	return g.remember(req, body, resp)
}

// bufferBody reads the request body so it can key the cache, then restores it.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}
