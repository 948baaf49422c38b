package skyport

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-skyport/internal/core"
	"github.com/joshp123/gohome-skyport/internal/rpc"
)

const (
	servicePackage  = "gohome.plugins.skyport.v1"
	serviceName     = "SkyportService"
	serviceFullName = servicePackage + "." + serviceName
)

type service struct {
	plugin *Plugin
}

func registerService(server *grpc.Server, p *Plugin) error {
	return rpc.Register(server, (&service{plugin: p}).describe())
}

// describe lists the generic methods followed by one method per action, named
// in CamelCase (set_fan_schedule becomes SetFanSchedule).
func (s *service) describe() rpc.Service {
	methods := []rpc.Method{
		{Name: "CallService", Handler: s.callService},
		{Name: "DescribeServices", Handler: s.describeServices},
		{Name: "ListThermostats", Handler: s.listThermostats},
		{Name: "GetThermostat", Handler: s.getThermostat},
		{Name: "ListSensors", Handler: s.listSensors},
		{Name: "ListCalls", Handler: s.listCalls},
	}
	for _, name := range s.actionNames() {
		methods = append(methods, rpc.Method{Name: methodName(name), Handler: s.action(name)})
	}
	return rpc.Service{Package: servicePackage, Name: serviceName, Methods: methods}
}

func (s *service) actionNames() []string {
	names := append([]string(nil), s.plugin.services.Names()...)
	return append(names, climateOperations...)
}

func methodName(service string) string {
	var b strings.Builder
	for _, part := range strings.Split(service, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return b.String()
}

func (s *service) ready() error {
	if s.plugin.client == nil {
		return status.Errorf(codes.FailedPrecondition, "skyport client not configured: %s", s.plugin.healthMessage)
	}
	return nil
}

func (s *service) action(name string) rpc.UnaryFunc {
	return func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
		out, err := s.plugin.CallService(ctx, name, req.AsMap())
		if err != nil {
			return nil, core.GRPCError(err)
		}
		return rpc.Reply(out)
	}
}

func (s *service) callService(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	name := fields["service"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "service is required")
	}
	data := fields["data"].GetStructValue().AsMap()
	out, err := s.plugin.CallService(ctx, name, data)
	if err != nil {
		return nil, core.GRPCError(err)
	}
	return rpc.Reply(out)
}

func (s *service) describeServices(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	ops := make([]any, 0, len(climateOperations))
	for _, op := range climateOperations {
		ops = append(ops, op)
	}
	return rpc.Reply(map[string]any{
		"services":           s.plugin.services.Values(),
		"climate_operations": ops,
	})
}

func (s *service) listThermostats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	devices, err := s.plugin.client.Devices(ctx)
	if err != nil {
		return nil, core.GRPCError(err)
	}
	out := make([]any, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceValues(d))
	}
	return rpc.Reply(map[string]any{"thermostats": out})
}

func (s *service) getThermostat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	entity := req.GetFields()["entity_id"].GetStringValue()
	if entity == "" {
		return nil, status.Error(codes.InvalidArgument, "entity_id is required")
	}
	device, err := s.plugin.actions.Resolve(ctx, entity)
	if err != nil {
		return nil, core.GRPCError(err)
	}
	data, err := s.plugin.client.DeviceData(ctx, device.ID)
	if err != nil {
		return nil, core.GRPCError(err)
	}
	return rpc.Reply(map[string]any{
		"thermostat": deviceValues(device),
		"data":       map[string]any(data),
	})
}

func (s *service) listSensors(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	thermostats, err := s.plugin.client.Thermostats(ctx)
	if err != nil {
		return nil, core.GRPCError(err)
	}

	entity := req.GetFields()["entity_id"].GetStringValue()
	out := make([]any, 0)
	for _, t := range thermostats {
		if entity != "" && !matchesEntity(t.Device, entity) {
			continue
		}
		sensors := make([]any, 0)
		for _, sensor := range Sensors(t) {
			sensors = append(sensors, sensor.Values())
		}
		entry := deviceValues(t.Device)
		entry["sensors"] = sensors
		out = append(out, entry)
	}
	if entity != "" && len(out) == 0 {
		return nil, core.GRPCError(ErrEntityNotFound)
	}
	return rpc.Reply(map[string]any{"thermostats": out})
}

func (s *service) listCalls(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.plugin.recorder == nil {
		return nil, status.Error(codes.FailedPrecondition, "call history disabled")
	}
	limit := int(req.GetFields()["limit"].GetNumberValue())
	calls, err := s.plugin.recorder.Recent(ctx, PluginID, limit)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list calls: %v", err)
	}
	out := make([]any, 0, len(calls))
	for _, call := range calls {
		out = append(out, call.Values())
	}
	return rpc.Reply(map[string]any{"calls": out})
}

func deviceValues(d Device) map[string]any {
	return map[string]any{
		"id":        d.ID,
		"name":      d.Name,
		"model":     d.Model,
		"entity_id": d.EntityID(),
	}
}
