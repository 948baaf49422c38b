package core

import (
	"context"

	"github.com/joshp123/gohome-skyport/internal/manifest"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// HealthStatus represents plugin health states for registry reporting.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Dashboard is a Grafana dashboard asset embedded by the plugin.
type Dashboard struct {
	Name string
	JSON []byte
}

// Manifest describes a plugin for discovery and registry metadata.
type Manifest struct {
	PluginID    string
	DisplayName string
	Version     string
	Services    []string
}

// Plugin is the compile-time contract for all GoHome plugins.
type Plugin interface {
	ID() string
	Manifest() Manifest
	AgentsMD() string
	Dashboards() []Dashboard
	RegisterGRPC(*grpc.Server) error
	Collectors() []prometheus.Collector
	Health() HealthStatus
	HealthMessage() string
}

// ServiceCaller is implemented by plugins that expose manifest-declared actions.
type ServiceCaller interface {
	Services() *manifest.Manifest
	CallService(ctx context.Context, service string, data map[string]any) (map[string]any, error)
}

// Closer is implemented by plugins holding background workers or connections.
type Closer interface {
	Close() error
}
