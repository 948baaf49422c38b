package rate

import "time"

// Window represents a provider rate-limit bucket.
type Window int

const (
	Minute Window = iota
	Day
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

// Duration is the span a window's budget refills over.
func (w Window) Duration() time.Duration {
	if w == Day {
		return 24 * time.Hour
	}
	return time.Minute
}

// Headers describes provider-specific rate limit headers.
type Headers struct {
	LimitMinute     string
	RemainingMinute string
	LimitDay        string
	RemainingDay    string
	RetryAfter      string
	ResetAfter      string
}

// RetryAfterOnly maps just Retry-After, for APIs that publish no budget headers.
func RetryAfterOnly() Headers {
	return Headers{RetryAfter: "Retry-After"}
}

// Declaration defines a provider's rate limits and header mapping.
type Declaration struct {
	provider string
	limits   map[Window]int
	cacheTTL time.Duration
	headers  Headers
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{provider: name}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	if d.limits == nil {
		d.limits = make(map[Window]int)
	}
	d.limits[window] = limit
	return d
}

// CacheFor keeps successful GET responses for ttl. They are served in place of
// an upstream call only while the guard is blocking.
func (d Declaration) CacheFor(ttl time.Duration) Declaration {
	d.cacheTTL = ttl
	return d
}

func (d Declaration) ReadHeaders(headers Headers) Declaration {
	d.headers = headers
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}

func (d Declaration) CacheTTL() time.Duration {
	return d.cacheTTL
}

func (d Declaration) Headers() Headers {
	return d.headers
}

func (d Declaration) HasLimits() bool {
	return len(d.limits) > 0
}

// Values renders the declaration for plugin descriptors.
func (d Declaration) Values() map[string]any {
	limits := make(map[string]any, len(d.limits))
	for window, limit := range d.limits {
		limits[window.String()] = limit
	}
	return map[string]any{
		"provider":          d.provider,
		"max_requests":      limits,
		"cache_ttl_seconds": d.cacheTTL.Seconds(),
	}
}

// RateLimited is the compile-time contract for plugins that declare limits.
type RateLimited interface {
	RateLimits() Declaration
}
