package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SchemaVersion              = 1
	DefaultPath                = "/etc/gohome/config.yaml"
	DefaultGRPCAddr            = "0.0.0.0:9000"
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultDashboardDir        = "/var/lib/gohome/dashboards"
	DefaultHistoryPath         = "/var/lib/gohome/history.db"
	DefaultLogLevel            = "info"
	DefaultBlobPrefix          = "gohome/auth"
	DefaultSkyportBaseURL      = "https://api.daikinskyport.com"
	DefaultSkyportStatePath    = "/var/lib/gohome/skyport-credentials.json"
	DefaultRefreshIntervalSecs = 600
	DefaultCacheTTLSeconds     = 60
	DefaultPollInterval        = "@every 1m"
	DefaultMQTTTopicPrefix     = "gohome/skyport"
	DefaultMQTTClientIDPrefix  = "gohome-skyport"
	envPrefix                  = "GOHOME"
)

// Config is the root server configuration.
type Config struct {
	SchemaVersion int            `mapstructure:"schema_version"`
	Core          CoreConfig     `mapstructure:"core"`
	Blob          *BlobConfig    `mapstructure:"blob"`
	Skyport       *SkyportConfig `mapstructure:"skyport"`
}

type CoreConfig struct {
	GRPCAddr     string `mapstructure:"grpc_addr"`
	HTTPAddr     string `mapstructure:"http_addr"`
	DashboardDir string `mapstructure:"dashboard_dir"`
	HistoryPath  string `mapstructure:"history_path"`
	LogLevel     string `mapstructure:"log_level"`
}

// BlobConfig points at S3-compatible storage that mirrors credential state.
type BlobConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	AccessKeyFile string `mapstructure:"access_key_file"`
	SecretKeyFile string `mapstructure:"secret_key_file"`
	Region        string `mapstructure:"region"`
}

type SkyportConfig struct {
	BaseURL                string      `mapstructure:"base_url"`
	Email                  string      `mapstructure:"email"`
	PasswordFile           string      `mapstructure:"password_file"`
	StatePath              string      `mapstructure:"state_path"`
	RefreshIntervalSeconds int         `mapstructure:"refresh_interval_seconds"`
	CacheTTLSeconds        int         `mapstructure:"cache_ttl_seconds"`
	PollInterval           string      `mapstructure:"poll_interval"`
	Location               string      `mapstructure:"location"`
	MQTT                   *MQTTConfig `mapstructure:"mqtt"`
}

type MQTTConfig struct {
	Broker       string `mapstructure:"broker"`
	Username     string `mapstructure:"username"`
	PasswordFile string `mapstructure:"password_file"`
	TopicPrefix  string `mapstructure:"topic_prefix"`
	ClientID     string `mapstructure:"client_id"`
}

// Load reads the YAML config file, applies env overrides and defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("schema_version", SchemaVersion)
	v.SetDefault("core.grpc_addr", DefaultGRPCAddr)
	v.SetDefault("core.http_addr", DefaultHTTPAddr)
	v.SetDefault("core.dashboard_dir", DefaultDashboardDir)
	v.SetDefault("core.history_path", DefaultHistoryPath)
	v.SetDefault("core.log_level", DefaultLogLevel)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}
	if cfg.Core.HistoryPath == "" {
		cfg.Core.HistoryPath = DefaultHistoryPath
	}
	if cfg.Core.LogLevel == "" {
		cfg.Core.LogLevel = DefaultLogLevel
	}

	if cfg.Blob != nil && cfg.Blob.Prefix == "" {
		cfg.Blob.Prefix = DefaultBlobPrefix
	}

	if sp := cfg.Skyport; sp != nil {
		if sp.BaseURL == "" {
			sp.BaseURL = DefaultSkyportBaseURL
		}
		if sp.StatePath == "" {
			sp.StatePath = DefaultSkyportStatePath
		}
		if sp.RefreshIntervalSeconds == 0 {
			sp.RefreshIntervalSeconds = DefaultRefreshIntervalSecs
		}
		if sp.CacheTTLSeconds == 0 {
			sp.CacheTTLSeconds = DefaultCacheTTLSeconds
		}
		if sp.PollInterval == "" {
			sp.PollInterval = DefaultPollInterval
		}
		if sp.MQTT != nil {
			if sp.MQTT.TopicPrefix == "" {
				sp.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
			}
			if sp.MQTT.ClientID == "" {
				sp.MQTT.ClientID = DefaultMQTTClientIDPrefix
			}
		}
	}
}

// Validate enforces required invariants beyond field typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if b := cfg.Blob; b != nil {
		if b.Endpoint == "" {
			return fmt.Errorf("blob.endpoint is required")
		}
		if b.Bucket == "" {
			return fmt.Errorf("blob.bucket is required")
		}
		if b.AccessKeyFile == "" {
			return fmt.Errorf("blob.access_key_file is required")
		}
		if b.SecretKeyFile == "" {
			return fmt.Errorf("blob.secret_key_file is required")
		}
	}

	if sp := cfg.Skyport; sp != nil {
		if sp.Email == "" {
			return fmt.Errorf("skyport.email is required")
		}
		if !strings.HasPrefix(sp.StatePath, "/") {
			return fmt.Errorf("skyport.state_path must be absolute")
		}
		if sp.Location != "" {
			if _, err := time.LoadLocation(sp.Location); err != nil {
				return fmt.Errorf("skyport.location: %w", err)
			}
		}
		if sp.MQTT != nil && sp.MQTT.Broker == "" {
			return fmt.Errorf("skyport.mqtt.broker is required")
		}
	}

	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Skyport != nil {
		enabled["skyport"] = true
	}
	return enabled
}
