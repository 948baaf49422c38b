package core

import (
	"context"
	"testing"

	"github.com/joshp123/gohome-skyport/internal/manifest"
	"github.com/joshp123/gohome-skyport/internal/rate"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

type stubPlugin struct {
	id            string
	name          string
	version       string
	services      []string
	dashboards    []Dashboard
	agents        string
	health        HealthStatus
	healthMessage string
}

func (s stubPlugin) ID() string { return s.id }

func (s stubPlugin) Manifest() Manifest {
	return Manifest{
		PluginID:    s.id,
		DisplayName: s.name,
		Version:     s.version,
		Services:    s.services,
	}
}

func (s stubPlugin) AgentsMD() string { return s.agents }

func (s stubPlugin) Dashboards() []Dashboard { return s.dashboards }

func (s stubPlugin) RegisterGRPC(*grpc.Server) error { return nil }

func (s stubPlugin) Collectors() []prometheus.Collector { return nil }

func (s stubPlugin) Health() HealthStatus { return s.health }

func (s stubPlugin) HealthMessage() string { return s.healthMessage }

type callerPlugin struct {
	stubPlugin
	services *manifest.Manifest
}

func (c callerPlugin) Services() *manifest.Manifest { return c.services }

func (c callerPlugin) CallService(context.Context, string, map[string]any) (map[string]any, error) {
	return nil, nil
}

type limitedPlugin struct {
	stubPlugin
}

func (limitedPlugin) RateLimits() rate.Declaration {
	return rate.Provider("demo").MaxRequestsPer(rate.Minute, 30).MaxRequestsPer(rate.Day, 2000)
}

func newStubPlugin(id string) stubPlugin {
	return stubPlugin{
		id:         id,
		name:       "Demo",
		version:    "0.1.0",
		services:   []string{"gohome.plugins.demo.v1.DemoService"},
		agents:     "demo agents",
		health:     HealthHealthy,
		dashboards: []Dashboard{{Name: "demo", JSON: []byte("{}")}},
	}
}

func demoActions() *manifest.Manifest {
	return &manifest.Manifest{Services: []manifest.ServiceDefinition{{
		Name:        "toggle",
		Description: "Toggle the demo",
		Fields:      []manifest.FieldDefinition{{Name: manifest.EntityField, Description: "Target"}},
	}}}
}

func TestRegistryListPlugins(t *testing.T) {
	plugin := newStubPlugin("demo")
	svc := NewRegistryService([]Plugin{plugin})

	resp, err := svc.listPlugins(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("ListPlugins error: %v", err)
	}
	plugins := resp.AsMap()["plugins"].([]any)
	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}

	got := plugins[0].(map[string]any)
	if got["plugin_id"] != "demo" || got["display_name"] != "Demo" || got["version"] != "0.1.0" {
		t.Fatalf("unexpected plugin summary: %+v", got)
	}
	if got["status"] != string(HealthHealthy) {
		t.Fatalf("unexpected health status: %s", got["status"])
	}
}

func TestRegistryDescribePlugin(t *testing.T) {
	plugin := callerPlugin{stubPlugin: newStubPlugin("demo"), services: demoActions()}
	svc := NewRegistryService([]Plugin{plugin})

	req, _ := structpb.NewStruct(map[string]any{"plugin_id": "demo"})
	resp, err := svc.describePlugin(context.Background(), req)
	if err != nil {
		t.Fatalf("DescribePlugin error: %v", err)
	}
	descriptor := resp.AsMap()["plugin"].(map[string]any)
	if descriptor["plugin_id"] != "demo" {
		t.Fatalf("unexpected plugin id: %v", descriptor["plugin_id"])
	}
	dashboards := descriptor["dashboards"].([]any)
	if len(dashboards) != 1 {
		t.Fatalf("expected 1 dashboard, got %d", len(dashboards))
	}
	if path := dashboards[0].(map[string]any)["path"]; path != "/dashboards/demo/demo.json" {
		t.Fatalf("unexpected dashboard path: %v", path)
	}
	actions := descriptor["actions"].([]any)
	if len(actions) != 1 || actions[0].(map[string]any)["name"] != "toggle" {
		t.Fatalf("unexpected actions: %v", actions)
	}
}

func TestRegistryDescribeRateLimits(t *testing.T) {
	svc := NewRegistryService([]Plugin{limitedPlugin{newStubPlugin("demo")}})
	req, _ := structpb.NewStruct(map[string]any{"plugin_id": "demo"})
	resp, err := svc.describePlugin(context.Background(), req)
	if err != nil {
		t.Fatalf("DescribePlugin error: %v", err)
	}
	descriptor := resp.AsMap()["plugin"].(map[string]any)
	limits, ok := descriptor["rate_limits"].(map[string]any)
	if !ok {
		t.Fatalf("rate_limits missing: %v", descriptor)
	}
	perWindow := limits["max_requests"].(map[string]any)
	if perWindow["minute"] != 30.0 || perWindow["day"] != 2000.0 {
		t.Fatalf("unexpected limits: %v", limits)
	}
}

func TestRegistryDescribeMissing(t *testing.T) {
	svc := NewRegistryService([]Plugin{newStubPlugin("demo")})
	req, _ := structpb.NewStruct(map[string]any{"plugin_id": "missing"})
	if _, err := svc.describePlugin(context.Background(), req); err == nil {
		t.Fatalf("expected not found error")
	}
}

func TestValidatePlugins(t *testing.T) {
	if err := ValidatePlugins([]Plugin{newStubPlugin("demo")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("demo"), newStubPlugin("demo")}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("Demo")}); err == nil {
		t.Fatalf("expected id pattern error")
	}

	broken := callerPlugin{stubPlugin: newStubPlugin("demo"), services: &manifest.Manifest{
		Services: []manifest.ServiceDefinition{{Name: "toggle", Description: "x"}},
	}}
	if err := ValidatePlugins([]Plugin{broken}); err == nil {
		t.Fatalf("expected manifest validation error")
	}
}

func TestFindCaller(t *testing.T) {
	plugins := []Plugin{newStubPlugin("plain"), callerPlugin{stubPlugin: newStubPlugin("demo"), services: demoActions()}}
	if _, ok := FindCaller(plugins, "plain"); ok {
		t.Fatalf("plain plugin should not be a caller")
	}
	caller, ok := FindCaller(plugins, "demo")
	if !ok || caller.Services().Names()[0] != "toggle" {
		t.Fatalf("expected demo caller")
	}
}
