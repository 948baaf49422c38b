package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/gohome-skyport/internal/core"
	"github.com/joshp123/gohome-skyport/internal/manifest"
)

type fakePlugin struct {
	services *manifest.Manifest
	calls    []map[string]any
}

func newFakePlugin(t *testing.T) *fakePlugin {
	t.Helper()
	m, err := manifest.Parse([]byte("resume_program:\n  description: Resume.\n  fields:\n    entity_id:\n      description: Target.\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return &fakePlugin{services: m}
}

func (p *fakePlugin) ID() string { return "fake" }
func (p *fakePlugin) Manifest() core.Manifest {
	return core.Manifest{PluginID: "fake", DisplayName: "Fake", Version: "0.0.1"}
}
func (p *fakePlugin) AgentsMD() string { return "" }
func (p *fakePlugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "overview", JSON: []byte(`{"title":"Fake"}`)}}
}
func (p *fakePlugin) RegisterGRPC(*grpc.Server) error { return nil }
func (p *fakePlugin) Collectors() []prometheus.Collector { return nil }
func (p *fakePlugin) Health() core.HealthStatus { return core.HealthDegraded }
func (p *fakePlugin) HealthMessage() string { return "mqtt down" }
func (p *fakePlugin) Services() *manifest.Manifest { return p.services }

func (p *fakePlugin) CallService(_ context.Context, service string, data map[string]any) (map[string]any, error) {
	svc, ok := p.services.Service(service)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownService, service)
	}
	if err := svc.Conform(data); err != nil {
		return nil, err
	}
	p.calls = append(p.calls, data)
	return map[string]any{"service": service}, nil
}

func newTestRouter(t *testing.T) (*fakePlugin, http.Handler) {
	t.Helper()
	p := newFakePlugin(t)
	return p, NewRouter(Routes{
		Plugins: []core.Plugin{p},
		Metrics: prometheus.NewRegistry(),
		Log:     logr.Discard(),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	_, h := newTestRouter(t)
	rec, out := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("health = %d %v", rec.Code, out)
	}
	plugins, _ := out["plugins"].(map[string]any)
	fake, _ := plugins["fake"].(map[string]any)
	if fake["status"] != "DEGRADED" || fake["message"] != "mqtt down" {
		t.Fatalf("plugin health = %v", plugins)
	}
}

func TestCallService(t *testing.T) {
	p, h := newTestRouter(t)

	rec, out := do(t, h, http.MethodPost, "/api/services/fake/resume_program", `{"entity_id":"climate.kitchen"}`)
	if rec.Code != http.StatusOK || out["service"] != "resume_program" {
		t.Fatalf("call = %d %v", rec.Code, out)
	}
	if len(p.calls) != 1 || p.calls[0]["entity_id"] != "climate.kitchen" {
		t.Fatalf("calls = %v", p.calls)
	}
}

func TestCallServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown plugin", "/api/services/nope/resume_program", `{}`, http.StatusNotFound},
		{"unknown service", "/api/services/fake/set_vacation", `{}`, http.StatusNotFound},
		{"unknown field", "/api/services/fake/resume_program", `{"colour":"red"}`, http.StatusBadRequest},
		{"not an object", "/api/services/fake/resume_program", `[1,2]`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, h := newTestRouter(t)
			rec, out := do(t, h, http.MethodPost, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%v)", rec.Code, tc.status, out)
			}
			if out["error"] == nil {
				t.Fatalf("missing error body: %v", out)
			}
		})
	}
}

func TestListServices(t *testing.T) {
	_, h := newTestRouter(t)
	rec, out := do(t, h, http.MethodGet, "/api/services/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	plugins, _ := out["plugins"].([]any)
	if len(plugins) != 1 {
		t.Fatalf("plugins = %v", out)
	}
	first, _ := plugins[0].(map[string]any)
	services, _ := first["services"].([]any)
	if first["plugin_id"] != "fake" || len(services) != 1 {
		t.Fatalf("services = %v", first)
	}
}

func TestDashboards(t *testing.T) {
	_, h := newTestRouter(t)
	rec, out := do(t, h, http.MethodGet, core.DashboardPath("fake", "overview"), "")
	if rec.Code != http.StatusOK || out["title"] != "Fake" {
		t.Fatalf("dashboard = %d %v", rec.Code, out)
	}
	rec, _ = do(t, h, http.MethodGet, "/dashboards/fake/missing.json", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing dashboard status = %d", rec.Code)
	}
}

func TestMetricsUseRoutePatterns(t *testing.T) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(MetricsCollectors()...)
	h := NewRouter(Routes{
		Plugins: []core.Plugin{newFakePlugin(t)},
		Metrics: registry,
		Log:     logr.Discard(),
	})

	do(t, h, http.MethodPost, "/api/services/fake/resume_program", `{"entity_id":"climate.kitchen"}`)
	rec, _ := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `route="/api/services/{plugin}/{service}"`) {
		t.Fatalf("expected route pattern label, got:\n%s", body)
	}
	if strings.Contains(body, "resume_program") {
		t.Fatalf("service name leaked into metric labels")
	}
}
