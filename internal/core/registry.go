package core

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-skyport/internal/rate"
	"github.com/joshp123/gohome-skyport/internal/rpc"
)

const (
	RegistryPackage = "gohome.registry.v1"
	RegistryName    = "Registry"
)

// RegistryService provides plugin discovery to clients.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

// Service describes the registry for rpc registration.
func (r *RegistryService) Service() rpc.Service {
	return rpc.Service{
		Package: RegistryPackage,
		Name:    RegistryName,
		Methods: []rpc.Method{
			{Name: "ListPlugins", Handler: r.listPlugins},
			{Name: "DescribePlugin", Handler: r.describePlugin},
		},
	}
}

// ListPlugins returns a summary row per plugin.
func (r *RegistryService) ListPlugins(context.Context) []any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]any, 0, len(r.plugins))
	for _, p := range r.plugins {
		manifest := p.Manifest()
		out = append(out, map[string]any{
			"plugin_id":    manifest.PluginID,
			"display_name": manifest.DisplayName,
			"version":      manifest.Version,
			"status":       string(p.Health()),
		})
	}
	return out
}

// DescribePlugin returns the full descriptor for one plugin.
func (r *RegistryService) DescribePlugin(_ context.Context, pluginID string) (map[string]any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != pluginID {
			continue
		}

		services := make([]any, 0, len(manifest.Services))
		for _, svc := range manifest.Services {
			services = append(services, svc)
		}
		dashboards := make([]any, 0)
		for _, d := range p.Dashboards() {
			dashboards = append(dashboards, map[string]any{
				"name": d.Name,
				"path": DashboardPath(manifest.PluginID, d.Name),
			})
		}

		descriptor := map[string]any{
			"plugin_id":      manifest.PluginID,
			"display_name":   manifest.DisplayName,
			"version":        manifest.Version,
			"services":       services,
			"agents_md":      p.AgentsMD(),
			"status":         string(p.Health()),
			"health_message": p.HealthMessage(),
			"dashboards":     dashboards,
		}
		if caller, ok := p.(ServiceCaller); ok {
			descriptor["actions"] = caller.Services().Values()
		}
		if limited, ok := p.(rate.RateLimited); ok {
			descriptor["rate_limits"] = limited.RateLimits().Values()
		}
		return descriptor, true
	}

	return nil, false
}

func (r *RegistryService) listPlugins(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return rpc.Reply(map[string]any{"plugins": r.ListPlugins(ctx)})
}

func (r *RegistryService) describePlugin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["plugin_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "plugin_id is required")
	}
	descriptor, ok := r.DescribePlugin(ctx, id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "plugin %q not found", id)
	}
	return rpc.Reply(map[string]any{"plugin": descriptor})
}
