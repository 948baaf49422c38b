package skyport

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/gohome-skyport/internal/auth"
	"github.com/joshp123/gohome-skyport/internal/config"
	"github.com/joshp123/gohome-skyport/internal/core"
	"github.com/joshp123/gohome-skyport/internal/history"
	"github.com/joshp123/gohome-skyport/internal/manifest"
	"github.com/joshp123/gohome-skyport/internal/mqtt"
	"github.com/joshp123/gohome-skyport/internal/rate"
)

const (
	PluginID = "skyport"
	version  = "0.1.0"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

//go:embed services.yaml
var servicesYAML []byte

// LoadServices parses and checks the embedded service manifest.
func LoadServices() (*manifest.Manifest, error) {
	m, err := manifest.Parse(servicesYAML)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Recorder keeps an audit trail of service calls.
type Recorder interface {
	Record(ctx context.Context, plugin, service string, data map[string]any, callErr error, duration time.Duration) (*history.Call, error)
	Recent(ctx context.Context, plugin string, limit int) ([]history.Call, error)
}

// Deps are shared services handed to the plugin by the server.
type Deps struct {
	Log      logr.Logger
	Recorder Recorder
	Blob     auth.BlobStore
}

// Plugin implements the GoHome plugin contract for Daikin Skyport thermostats.
type Plugin struct {
	services  *manifest.Manifest
	client    *Client
	actions   *Actions
	recorder  Recorder
	publisher mqtt.Publisher
	poller    *Poller
	log       logr.Logger
	closers   []func() error

	health        core.HealthStatus
	healthMessage string
}

var (
	_ core.Plugin        = (*Plugin)(nil)
	_ core.ServiceCaller = (*Plugin)(nil)
	_ core.Closer        = (*Plugin)(nil)
	_ rate.RateLimited   = (*Plugin)(nil)
)

// NewPlugin constructs the plugin from config. The bool is false when the
// skyport section is absent.
func NewPlugin(cfg *config.Config, deps Deps) (*Plugin, bool) {
	if cfg == nil || cfg.Skyport == nil {
		return nil, false
	}
	log := deps.Log.WithName(PluginID)

	services, err := LoadServices()
	if err != nil {
		return failed(services, log, fmt.Errorf("services manifest: %w", err)), true
	}

	runtimeCfg, err := ConfigFrom(cfg.Skyport)
	if err != nil {
		return failed(services, log, err), true
	}

	manager, err := auth.NewManager(AuthDeclaration(runtimeCfg.BaseURL, runtimeCfg.StatePath), auth.Options{
		Credentials: runtimeCfg.Credentials,
		Blob:        deps.Blob,
		Log:         log.WithName("auth"),
	})
	if err != nil {
		return failed(services, log, fmt.Errorf("auth: %w", err)), true
	}

	client, err := NewClient(ClientOptions{
		BaseURL:    runtimeCfg.BaseURL,
		Tokens:     manager,
		RateLimits: rateLimits(),
		CacheTTL:   runtimeCfg.CacheTTL,
		Log:        log.WithName("client"),
	})
	if err != nil {
		return failed(services, log, err), true
	}

	p := newPlugin(services, client, NewActions(client, runtimeCfg.Location), deps.Recorder, log)

	ctx, cancel := context.WithCancel(context.Background())
	manager.Start(ctx, runtimeCfg.RefreshInterval)
	p.closers = append(p.closers, func() error { cancel(); return nil })

	if runtimeCfg.MQTT != nil {
		p.startPublishing(*runtimeCfg.MQTT, runtimeCfg.PollSpec)
	}
	return p, true
}

func newPlugin(services *manifest.Manifest, client *Client, actions *Actions, recorder Recorder, log logr.Logger) *Plugin {
	return &Plugin{
		services: services,
		client:   client,
		actions:  actions,
		recorder: recorder,
		log:      log,
		health:   core.HealthHealthy,
	}
}

func failed(services *manifest.Manifest, log logr.Logger, err error) *Plugin {
	log.Error(err, "plugin unavailable")
	return &Plugin{services: services, log: log, health: core.HealthError, healthMessage: err.Error()}
}

func (p *Plugin) startPublishing(opts mqtt.Options, pollSpec string) {
	client, err := mqtt.Connect(opts, p.log)
	if err != nil {
		p.degrade(fmt.Errorf("mqtt: %w", err))
		return
	}
	p.publisher = client
	p.closers = append(p.closers, client.Close)

	if pollSpec == "" {
		return
	}
	poller, err := NewPoller(p.client, client, pollSpec, p.log)
	if err != nil {
		p.degrade(err)
		return
	}
	poller.Start()
	p.poller = poller
}

func (p *Plugin) degrade(err error) {
	p.log.Error(err, "running degraded")
	p.health = core.HealthDegraded
	p.healthMessage = err.Error()
}

// AuthDeclaration describes the Skyport login endpoints.
func AuthDeclaration(baseURL, statePath string) auth.Declaration {
	baseURL = strings.TrimRight(baseURL, "/")
	return auth.Declaration{
		Provider:  PluginID,
		LoginURL:  baseURL + "/users/auth/login",
		TokenURL:  baseURL + "/users/auth/token",
		StatePath: statePath,
	}
}

func (p *Plugin) ID() string {
	return PluginID
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    PluginID,
		DisplayName: "Daikin Skyport",
		Version:     version,
		Services:    []string{serviceFullName},
	}
}

func (p *Plugin) AgentsMD() string {
	return agentsMD
}

func (p *Plugin) RateLimits() rate.Declaration {
	return rateLimits()
}

func rateLimits() rate.Declaration {
	return rate.Provider(PluginID).
		MaxRequestsPer(rate.Minute, 30).
		MaxRequestsPer(rate.Day, 2000).
		CacheFor(10 * time.Minute).
		ReadHeaders(rate.RetryAfterOnly())
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "skyport-overview", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterGRPC(server *grpc.Server) error {
	return registerService(server, p)
}

func (p *Plugin) Collectors() []prometheus.Collector {
	out := []prometheus.Collector{serviceCalls}
	if p.client != nil {
		out = append(out, NewMetricsCollector(p.client))
	}
	return out
}

func (p *Plugin) Health() core.HealthStatus {
	return p.health
}

func (p *Plugin) HealthMessage() string {
	return p.healthMessage
}

func (p *Plugin) Services() *manifest.Manifest {
	return p.services
}

// CallService runs a manifest service or thermostat control.
func (p *Plugin) CallService(ctx context.Context, service string, data map[string]any) (map[string]any, error) {
	if p.actions == nil {
		return nil, fmt.Errorf("%w: skyport unavailable: %s", core.ErrUnavailable, p.healthMessage)
	}
	if data == nil {
		data = map[string]any{}
	}

	start := time.Now()
	changes, err := p.call(ctx, service, data)
	p.observe(ctx, service, data, changes, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return changesReply(service, changes), nil
}

func (p *Plugin) call(ctx context.Context, service string, data map[string]any) ([]Change, error) {
	if svc, ok := p.services.Service(service); ok {
		if err := svc.Conform(data); err != nil {
			return nil, err
		}
	} else if !isClimateOperation(service) {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownService, service)
	}
	return p.actions.Call(ctx, service, data)
}

func (p *Plugin) observe(ctx context.Context, service string, data map[string]any, changes []Change, err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	if !errors.Is(err, core.ErrUnknownService) {
		serviceCalls.WithLabelValues(service, result).Inc()
	}

	if err != nil {
		p.log.Error(err, "service call failed", "service", service, "duration", took)
	} else {
		p.log.Info("service call", "service", service, "thermostats", len(changes), "duration", took)
	}

	if p.recorder != nil {
		if _, recErr := p.recorder.Record(ctx, PluginID, service, data, err, took); recErr != nil {
			p.log.Error(recErr, "record service call", "service", service)
		}
	}

	if p.publisher == nil {
		return
	}
	for _, change := range changes {
		event := map[string]any{"service": service, "data": data, "body": change.Body}
		if pubErr := p.publisher.PublishJSON(p.publisher.Topic(change.Device.ID, "event"), event, false); pubErr != nil {
			p.log.Error(pubErr, "publish event", "device_id", change.Device.ID)
		}
	}
}

// Close stops background workers.
func (p *Plugin) Close() error {
	if p.poller != nil {
		p.poller.Stop()
	}
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isClimateOperation(name string) bool {
	for _, op := range climateOperations {
		if op == name {
			return true
		}
	}
	return false
}

func changesReply(service string, changes []Change) map[string]any {
	out := make([]any, 0, len(changes))
	for _, change := range changes {
		out = append(out, map[string]any{
			"device_id": change.Device.ID,
			"entity_id": change.Device.EntityID(),
			"body":      change.Body,
		})
	}
	return map[string]any{"service": service, "changes": out}
}
