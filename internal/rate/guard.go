package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitError is returned when calls are blocked.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

// Decision is the outcome of asking the guard for one upstream call.
type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

// budget is the per-window accounting. Until the provider reports its own
// numbers the window is a token bucket refilled over its duration.
type budget struct {
	span     time.Duration
	limit    int
	tokens   float64
	refilled time.Time

	// reported is set once the provider has sent remaining-count headers.
	reported  bool
	remaining int
}

func newBudget(window Window, limit int, now time.Time) *budget {
	return &budget{
		span:      window.Duration(),
		limit:     limit,
		tokens:    float64(limit),
		refilled:  now,
		remaining: limit,
	}
}

// allow refills the window and reports whether one more call fits, or when the
// next one frees up. It spends nothing.
func (b *budget) allow(now time.Time) (bool, time.Time) {
	if b.reported {
		return b.remaining > 0, time.Time{}
	}
	if b.limit <= 0 {
		return false, time.Time{}
	}

	perCall := b.span / time.Duration(b.limit)
	if now.After(b.refilled) {
		b.tokens += now.Sub(b.refilled).Seconds() / perCall.Seconds()
		if b.tokens > float64(b.limit) {
			b.tokens = float64(b.limit)
		}
		b.refilled = now
	}
	if b.tokens < 1 {
		return false, now.Add(perCall)
	}
	return true, time.Time{}
}

func (b *budget) spend() {
	if b.reported {
		b.remaining--
		return
	}
	b.tokens--
}

// Guard enforces rate limits for a provider.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu         sync.Mutex
	budgets    map[Window]*budget
	cooldown   time.Time
	lastStatus int
	cache      map[string]cacheEntry
}

func newGuard(decl Declaration) *Guard {
	g := &Guard{
		decl:    decl,
		now:     time.Now,
		budgets: make(map[Window]*budget, len(decl.Limits())),
		cache:   make(map[string]cacheEntry),
	}
	start := g.now()
	for window, limit := range decl.Limits() {
		g.budgets[window] = newBudget(window, limit, start)
	}
	return g
}

// ShouldCall reserves one upstream call if every window allows it.
func (g *Guard) ShouldCall(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.decl.HasLimits() {
		return Decision{Reason: "disabled"}
	}
	if now.Before(g.cooldown) {
		return Decision{Reason: "cooldown", RetryAt: g.cooldown}
	}
	// Every window must allow the call before any of them is charged.
	for _, window := range []Window{Minute, Day} {
		b, ok := g.budgets[window]
		if !ok {
			continue
		}
		if b.limit <= 0 && !b.reported {
			return Decision{Reason: "disabled"}
		}
		if ok, retryAt := b.allow(now); !ok {
			if retryAt.IsZero() {
				retryAt = g.cooldown
			}
			return Decision{Reason: "budget", RetryAt: retryAt}
		}
	}
	for _, b := range g.budgets {
		b.spend()
	}
	return Decision{Allowed: true}
}

// RecordResponse folds the provider's status and rate headers into the guard.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	provider := g.decl.ProviderName()
	names := g.decl.Headers()
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastStatus = status
	lastStatusGauge.WithLabelValues(provider).Set(float64(status))

	if secs := headerInt(headers, names.RetryAfter); secs > 0 {
		g.cooldown = now.Add(time.Duration(secs) * time.Second)
		retryAfterGauge.WithLabelValues(provider).Set(float64(secs))
	} else if secs := headerInt(headers, names.ResetAfter); secs > 0 && g.cooldown.IsZero() {
		g.cooldown = now.Add(time.Duration(secs) * time.Second)
		retryAfterGauge.WithLabelValues(provider).Set(float64(secs))
	}

	g.report(Minute, headerInt(headers, names.RemainingMinute), headerInt(headers, names.LimitMinute))
	g.report(Day, headerInt(headers, names.RemainingDay), headerInt(headers, names.LimitDay))
}

func (g *Guard) report(window Window, remaining, limit int) {
	if remaining < 0 {
		return
	}
	b, ok := g.budgets[window]
	if !ok {
		b = newBudget(window, limit, g.now())
		g.budgets[window] = b
	}
	b.reported = true
	b.remaining = remaining
	if limit > 0 {
		b.limit = limit
	}
	remainingGauge.WithLabelValues(g.decl.ProviderName(), window.String()).Set(float64(remaining))
}

// headerInt reads an integer header, returning -1 when unmapped or absent.
func headerInt(h http.Header, key string) int {
	if key == "" {
		return -1
	}
	n, err := strconv.Atoi(h.Get(key))
	if err != nil {
		return -1
	}
	return n
}
