package auth

import (
	"time"

	"github.com/joshp123/gohome-skyport/internal/config"
)

const DefaultRefreshInterval = config.DefaultRefreshIntervalSecs * time.Second

// RefreshInterval returns the background refresh period. Negative disables it.
func RefreshInterval(seconds int) time.Duration {
	switch {
	case seconds < 0:
		return 0
	case seconds == 0:
		return DefaultRefreshInterval
	default:
		return time.Duration(seconds) * time.Second
	}
}
