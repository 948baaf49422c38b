package skyport

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/joshp123/gohome-skyport/internal/auth"
	"github.com/joshp123/gohome-skyport/internal/config"
	"github.com/joshp123/gohome-skyport/internal/mqtt"
)

// Config is the runtime configuration derived from the skyport config section.
type Config struct {
	BaseURL         string
	Credentials     auth.Credentials
	StatePath       string
	RefreshInterval time.Duration
	CacheTTL        time.Duration
	PollSpec        string
	Location        *time.Location
	MQTT            *mqtt.Options
}

// ConfigFrom resolves secrets and parses durations from the loaded config.
func ConfigFrom(sp *config.SkyportConfig) (Config, error) {
	if sp == nil {
		return Config{}, fmt.Errorf("skyport config missing")
	}

	creds, err := auth.LoadCredentials(sp.Email, sp.PasswordFile)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		BaseURL:         strings.TrimRight(strings.TrimSpace(sp.BaseURL), "/"),
		Credentials:     creds,
		StatePath:       sp.StatePath,
		RefreshInterval: auth.RefreshInterval(sp.RefreshIntervalSeconds),
		CacheTTL:        time.Duration(sp.CacheTTLSeconds) * time.Second,
		PollSpec:        sp.PollInterval,
		Location:        time.Local,
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = config.DefaultSkyportBaseURL
	}
	if cfg.StatePath == "" {
		cfg.StatePath = config.DefaultSkyportStatePath
	}
	if sp.CacheTTLSeconds < 0 {
		cfg.CacheTTL = 0
	}

	if sp.Location != "" {
		loc, err := time.LoadLocation(sp.Location)
		if err != nil {
			return Config{}, fmt.Errorf("location: %w", err)
		}
		cfg.Location = loc
	}

	if cfg.PollSpec != "" {
		if _, err := cron.ParseStandard(cfg.PollSpec); err != nil {
			return Config{}, fmt.Errorf("poll_interval %q: %w", cfg.PollSpec, err)
		}
	}

	if m := sp.MQTT; m != nil {
		opts := &mqtt.Options{
			Broker:      m.Broker,
			Username:    m.Username,
			ClientID:    m.ClientID,
			TopicPrefix: m.TopicPrefix,
		}
		if m.PasswordFile != "" {
			password, err := auth.ReadSecretFile(m.PasswordFile)
			if err != nil {
				return Config{}, fmt.Errorf("read mqtt password: %w", err)
			}
			opts.Password = password
		}
		cfg.MQTT = opts
	}

	return cfg, nil
}
