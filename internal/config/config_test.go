package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
schema_version: 1
skyport:
  email: someone@example.com
  password_file: /run/secrets/skyport
  mqtt:
    broker: tcp://broker:1883
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Core.GRPCAddr != DefaultGRPCAddr || cfg.Core.HTTPAddr != DefaultHTTPAddr {
		t.Fatalf("core defaults not applied: %+v", cfg.Core)
	}
	if cfg.Blob != nil {
		t.Fatalf("blob should stay unset")
	}
	sp := cfg.Skyport
	if sp == nil {
		t.Fatalf("skyport section missing")
	}
	if sp.BaseURL != DefaultSkyportBaseURL || sp.StatePath != DefaultSkyportStatePath {
		t.Fatalf("skyport defaults not applied: %+v", sp)
	}
	if sp.PollInterval != DefaultPollInterval || sp.CacheTTLSeconds != DefaultCacheTTLSeconds {
		t.Fatalf("skyport timing defaults not applied: %+v", sp)
	}
	if sp.MQTT.TopicPrefix != DefaultMQTTTopicPrefix {
		t.Fatalf("mqtt topic prefix = %q", sp.MQTT.TopicPrefix)
	}
	if !EnabledPlugins(cfg)["skyport"] {
		t.Fatalf("skyport should be enabled")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "schema_version: 1\n")
	t.Setenv("GOHOME_CORE_GRPC_ADDR", "127.0.0.1:9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Core.GRPCAddr != "127.0.0.1:9100" {
		t.Fatalf("grpc addr = %q", cfg.Core.GRPCAddr)
	}
	if len(EnabledPlugins(cfg)) != 0 {
		t.Fatalf("no plugins should be enabled")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"schema":      "schema_version: 2\n",
		"email":       "schema_version: 1\nskyport:\n  base_url: http://x\n",
		"relative":    "schema_version: 1\nskyport:\n  email: a@b\n  state_path: creds.json\n",
		"location":    "schema_version: 1\nskyport:\n  email: a@b\n  location: Mars/Olympus\n",
		"blob bucket": "schema_version: 1\nblob:\n  endpoint: http://s3\n",
		"mqtt broker": "schema_version: 1\nskyport:\n  email: a@b\n  mqtt:\n    topic_prefix: x\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error for %s", strings.TrimSpace(body))
			}
		})
	}
}
