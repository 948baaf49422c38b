package rate

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestGuardBlocksWhenBudgetSpent(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer server.Close()

	client := WrapHTTP(Provider("test").MaxRequestsPer(Minute, 2), nil)
	for i := 0; i < 2; i++ {
		resp, err := client.Get(server.URL)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
	}

	_, err := client.Get(server.URL)
	var limited RateLimitError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if limited.Provider != "test" || limited.Reason != "budget" {
		t.Fatalf("unexpected error: %+v", limited)
	}
	if hits != 2 {
		t.Fatalf("expected 2 upstream hits, got %d", hits)
	}
}

func TestGuardServesCacheWhileBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Retry-After", "60")
		}
		_, _ = io.WriteString(w, `{"tempIndoor":21.5}`)
	}))
	defer server.Close()

	decl := Provider("test").
		MaxRequestsPer(Minute, 10).
		CacheFor(time.Minute).
		ReadHeaders(RetryAfterOnly())
	client := WrapHTTP(decl, nil)

	resp, err := client.Get(server.URL + "/deviceData/1")
	if err != nil {
		t.Fatalf("first GET: %v", err)
	}
	resp.Body.Close()

	resp, err = client.Get(server.URL + "/deviceData/1")
	if err != nil {
		t.Fatalf("cached GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "21.5") {
		t.Fatalf("unexpected cached body %s", body)
	}

	req, _ := http.NewRequest(http.MethodPut, server.URL+"/deviceData/1", strings.NewReader(`{}`))
	if _, err := client.Do(req); err == nil {
		t.Fatalf("expected PUT to be blocked during cooldown")
	} else {
		var limited RateLimitError
		if !errors.As(err, &limited) || limited.Reason != "cooldown" {
			t.Fatalf("expected cooldown error, got %v", err)
		}
	}
}

func TestGuardForgetsCacheAfterWrite(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer server.Close()

	decl := Provider("test").MaxRequestsPer(Minute, 10).CacheFor(time.Minute)
	g := newGuard(decl)
	client := &http.Client{Transport: &roundTripper{base: http.DefaultTransport, guard: g}}

	resp, err := client.Get(server.URL + "/deviceData/1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if len(g.cache) != 1 {
		t.Fatalf("expected one cache entry, got %d", len(g.cache))
	}

	req, _ := http.NewRequest(http.MethodPut, server.URL+"/deviceData/1", strings.NewReader(`{"mode":1}`))
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if len(g.cache) != 0 {
		t.Fatalf("expected cache cleared after write, got %d", len(g.cache))
	}
}

func TestGuardWithoutLimitsIsDisabled(t *testing.T) {
	client := WrapHTTP(Provider("none"), nil)
	_, err := client.Get("http://127.0.0.1:1/")
	var limited RateLimitError
	if !errors.As(err, &limited) || limited.Reason != "disabled" {
		t.Fatalf("expected disabled error, got %v", err)
	}
}

func TestGuardFollowsReportedBudget(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("X-RateLimit-Remaining-minute", strconv.Itoa(2-hits))
		_, _ = io.WriteString(w, `{}`)
	}))
	defer server.Close()

	decl := Provider("test").
		MaxRequestsPer(Minute, 100).
		ReadHeaders(Headers{RemainingMinute: "X-RateLimit-Remaining-minute"})
	client := WrapHTTP(decl, nil)

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("first GET: %v", err)
	}
	resp.Body.Close()

	// The first answer reports one call left in the window.
	resp, err = client.Get(server.URL)
	if err != nil {
		t.Fatalf("second GET: %v", err)
	}
	resp.Body.Close()

	_, err = client.Get(server.URL)
	var limited RateLimitError
	if !errors.As(err, &limited) || limited.Reason != "budget" {
		t.Fatalf("expected budget error, got %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected 2 upstream hits, got %d", hits)
	}
}

func TestBudgetRefillsOverWindow(t *testing.T) {
	start := time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)
	b := newBudget(Minute, 2, start)

	for i := 0; i < 2; i++ {
		if ok, _ := b.allow(start); !ok {
			t.Fatalf("call %d should be allowed", i)
		}
		b.spend()
	}
	ok, retryAt := b.allow(start)
	if ok {
		t.Fatalf("third call should be blocked")
	}
	if want := start.Add(30 * time.Second); !retryAt.Equal(want) {
		t.Fatalf("retry at = %s, want %s", retryAt, want)
	}
	if ok, _ := b.allow(start.Add(31 * time.Second)); !ok {
		t.Fatalf("call after refill should be allowed")
	}
}

func TestGuardChargesNoWindowWhenOneDenies(t *testing.T) {
	g := newGuard(Provider("test").MaxRequestsPer(Minute, 5).MaxRequestsPer(Day, 1))
	start := g.now()

	if d := g.ShouldCall(start); !d.Allowed {
		t.Fatalf("first call should be allowed: %+v", d)
	}
	for i := 0; i < 3; i++ {
		if d := g.ShouldCall(start); d.Allowed || d.Reason != "budget" {
			t.Fatalf("call %d should hit the day budget: %+v", i, d)
		}
	}
	if tokens := g.budgets[Minute].tokens; tokens < 4 {
		t.Fatalf("denied calls spent minute tokens: %v left, want 4", tokens)
	}
}

func TestGuardNoCacheSkipsCachedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		_, _ = io.WriteString(w, `{"fanCirculateStop":20}`)
	}))
	defer server.Close()

	decl := Provider("test").
		MaxRequestsPer(Minute, 10).
		CacheFor(time.Minute).
		ReadHeaders(RetryAfterOnly())
	client := WrapHTTP(decl, nil)

	resp, err := client.Get(server.URL + "/deviceData/1")
	if err != nil {
		t.Fatalf("first GET: %v", err)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/deviceData/1", nil)
	req.Header.Set("Cache-Control", "no-cache")
	_, err = client.Do(req)
	var limited RateLimitError
	if !errors.As(err, &limited) || limited.Reason != "cooldown" {
		t.Fatalf("expected cooldown error instead of a cached answer, got %v", err)
	}
}
