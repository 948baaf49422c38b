package skyport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joshp123/gohome-skyport/internal/core"
)

var ErrEntityNotFound = fmt.Errorf("thermostat %w", core.ErrNotFound)

// entityAll targets every thermostat on the account.
const entityAll = "all"

// request is a decoded service call. apply fills the patch for one thermostat.
type request interface {
	targets() Entities
	apply(a *Actions, p *patch)
}

var operations = map[string]func() request{
	"resume_program":          func() request { return &resumeRequest{} },
	"set_fan_schedule":        func() request { return &fanScheduleRequest{} },
	"set_night_mode":          func() request { return &nightModeRequest{} },
	"set_thermostat_schedule": func() request { return &scheduleRequest{} },
	"set_oneclean":            func() request { return &oneCleanRequest{} },
	"set_hvac_mode":           func() request { return &hvacModeRequest{} },
	"set_fan_mode":            func() request { return &fanModeRequest{} },
	"set_fan_speed":           func() request { return &fanSpeedRequest{} },
	"set_temp_hold":           func() request { return &tempHoldRequest{} },
	"set_permanent_hold":      func() request { return &permanentHoldRequest{} },
	"set_away":                func() request { return &awayRequest{} },
	"set_humidity":            func() request { return &humidityRequest{} },
}

// climateOperations are thermostat controls served beside the manifest services.
var climateOperations = []string{
	"set_hvac_mode",
	"set_fan_mode",
	"set_fan_speed",
	"set_temp_hold",
	"set_permanent_hold",
	"set_away",
	"set_humidity",
}

// Change is the body written to one thermostat.
type Change struct {
	Device Device
	Body   map[string]any
}

// Actions turns service calls into deviceData writes.
type Actions struct {
	client   *Client
	location *time.Location
	now      func() time.Time

	mu       sync.Mutex
	lastPart map[string]int
}

func NewActions(client *Client, location *time.Location) *Actions {
	if location == nil {
		location = time.Local
	}
	return &Actions{
		client:   client,
		location: location,
		now:      time.Now,
		lastPart: make(map[string]int),
	}
}

// Call validates data for service and writes the resulting body to every
// targeted thermostat. Changes already written are returned with any error.
func (a *Actions) Call(ctx context.Context, service string, data map[string]any) ([]Change, error) {
	newRequest, ok := operations[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownService, service)
	}
	req := newRequest()
	if err := decode(service, data, req); err != nil {
		return nil, err
	}

	devices, err := a.resolve(ctx, req.targets())
	if err != nil {
		return nil, err
	}

	changes := make([]Change, 0, len(devices))
	for _, device := range devices {
		p := &patch{device: device, body: make(map[string]any)}
		req.apply(a, p)
		if err := a.complete(ctx, p); err != nil {
			return changes, fmt.Errorf("%s on %s: %w", service, device.ID, err)
		}
		if len(p.body) == 0 {
			continue
		}
		if err := a.client.Update(ctx, device.ID, p.body); err != nil {
			return changes, fmt.Errorf("%s on %s: %w", service, device.ID, err)
		}
		if p.done != nil {
			p.done()
		}
		changes = append(changes, Change{Device: device, Body: p.body})
	}
	return changes, nil
}

// Resolve maps an entity id to its thermostat.
func (a *Actions) Resolve(ctx context.Context, entityID string) (Device, error) {
	devices, err := a.resolve(ctx, Entities{entityID})
	if err != nil {
		return Device{}, err
	}
	return devices[0], nil
}

func (a *Actions) resolve(ctx context.Context, entities Entities) ([]Device, error) {
	devices, err := a.client.Devices(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []Device
	add := func(d Device) {
		if !seen[d.ID] {
			seen[d.ID] = true
			out = append(out, d)
		}
	}
	for _, entity := range entities {
		if strings.EqualFold(entity, entityAll) {
			for _, d := range devices {
				add(d)
			}
			continue
		}
		found := false
		for _, d := range devices {
			if matchesEntity(d, entity) {
				add(d)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, entity)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no thermostats on account", ErrEntityNotFound)
	}
	return out, nil
}

func matchesEntity(d Device, entity string) bool {
	entity = strings.ToLower(strings.TrimSpace(entity))
	return entity == strings.ToLower(d.ID) ||
		entity == d.EntityID() ||
		entity == slug(d.Name) ||
		entity == strings.ToLower(d.Name)
}

func (a *Actions) today() string {
	return weekdays[a.now().In(a.location).Weekday()]
}

func (a *Actions) partFor(deviceID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if part, ok := a.lastPart[deviceID]; ok {
		return part
	}
	return 1
}

func (a *Actions) rememberPart(deviceID string, part int) {
	a.mu.Lock()
	a.lastPart[deviceID] = part
	a.mu.Unlock()
}

// patch collects the body for one thermostat. Keys listed in missing are
// copied from the stored deviceData before the write.
type patch struct {
	device  Device
	body    map[string]any
	missing []string
	round   []string
	done    func()
}

// set writes the field when given and otherwise marks key for copying.
func (p *patch) set(key string, field valuer) {
	if value, ok := field.value(); ok {
		p.body[key] = value
		return
	}
	p.missing = append(p.missing, key)
}

func (p *patch) fixed(key string, value any) {
	p.body[key] = value
}

func (a *Actions) complete(ctx context.Context, p *patch) error {
	if len(p.missing) > 0 {
		stored, err := a.client.StoredData(ctx, p.device.ID)
		if err != nil {
			return fmt.Errorf("read stored values: %w", err)
		}
		for _, key := range p.missing {
			if value, ok := stored[key]; ok && value != nil {
				p.body[key] = value
			}
		}
	}
	for _, key := range p.round {
		if v, ok := DeviceData(p.body).Float(key); ok {
			p.body[key] = round(v, 1)
		}
	}
	return nil
}

type resumeRequest struct {
	EntityID Entities `json:"entity_id" validate:"required,min=1"`
}

func (r *resumeRequest) targets() Entities { return r.EntityID }

func (r *resumeRequest) apply(_ *Actions, p *patch) {
	p.fixed("schedEnabled", true)
	p.fixed("schedOverride", 0)
	p.fixed("geofencingAway", false)
}

type fanScheduleRequest struct {
	EntityID  Entities `json:"entity_id" validate:"required,min=1"`
	StartTime *Int     `json:"start_time" validate:"omitnil,min=0,max=95"`
	EndTime   *Int     `json:"end_time" validate:"omitnil,min=0,max=95"`
	Interval  *Int     `json:"interval" validate:"omitnil,min=0,max=4"`
	FanSpeed  *Int     `json:"fan_speed" validate:"omitnil,min=0,max=2"`
}

func (r *fanScheduleRequest) targets() Entities { return r.EntityID }

func (r *fanScheduleRequest) apply(_ *Actions, p *patch) {
	p.set("fanCirculateStart", r.StartTime)
	p.set("fanCirculateStop", r.EndTime)
	p.set("fanCirculateDuration", r.Interval)
	p.set("fanCirculateSpeed", r.FanSpeed)
}

type nightModeRequest struct {
	EntityID  Entities `json:"entity_id" validate:"required,min=1"`
	StartTime *Int     `json:"start_time" validate:"omitnil,min=0,max=95"`
	EndTime   *Int     `json:"end_time" validate:"omitnil,min=0,max=95"`
	Enable    *Bool    `json:"enable"`
}

func (r *nightModeRequest) targets() Entities { return r.EntityID }

func (r *nightModeRequest) apply(_ *Actions, p *patch) {
	p.set("nightModeStart", r.StartTime)
	p.set("nightModeStop", r.EndTime)
	p.set("nightModeEnabled", r.Enable)
}

type scheduleRequest struct {
	EntityID  Entities `json:"entity_id" validate:"required,min=1"`
	Day       *Weekday `json:"day" validate:"omitnil,oneof=Mon Tue Wed Thu Fri Sat Sun"`
	Part      *Int     `json:"part" validate:"omitnil,min=1,max=6"`
	StartTime *Int     `json:"start_time" validate:"omitnil,min=0,max=95"`
	Enable    *Bool    `json:"enable"`
	Label     *Text    `json:"label" validate:"omitnil,max=32"`
	Heat      *Float   `json:"heat_temp_setpoint"`
	Cool      *Float   `json:"cool_temp_setpoint"`
}

func (r *scheduleRequest) targets() Entities { return r.EntityID }

func (r *scheduleRequest) apply(a *Actions, p *patch) {
	day := a.today()
	if r.Day != nil {
		day = string(*r.Day)
	}
	part := a.partFor(p.device.ID)
	if r.Part != nil {
		part = int(*r.Part)
	}

	prefix := fmt.Sprintf("sched%sPart%d", day, part)
	p.set(prefix+"Time", r.StartTime)
	p.set(prefix+"Enabled", r.Enable)
	p.set(prefix+"Label", r.Label)
	p.set(prefix+"hsp", r.Heat)
	p.set(prefix+"csp", r.Cool)
	p.done = func() { a.rememberPart(p.device.ID, part) }
}

type oneCleanRequest struct {
	EntityID Entities `json:"entity_id" validate:"required,min=1"`
	Enable   *Bool    `json:"enable" validate:"required"`
}

func (r *oneCleanRequest) targets() Entities { return r.EntityID }

func (r *oneCleanRequest) apply(_ *Actions, p *patch) {
	p.set("oneCleanFanActive", r.Enable)
}

type hvacModeRequest struct {
	EntityID Entities  `json:"entity_id" validate:"required,min=1"`
	Mode     *HVACMode `json:"hvac_mode" validate:"required,min=0,max=4"`
}

func (r *hvacModeRequest) targets() Entities { return r.EntityID }

func (r *hvacModeRequest) apply(_ *Actions, p *patch) {
	p.fixed("mode", int64(*r.Mode))
}

type fanModeRequest struct {
	EntityID Entities `json:"entity_id" validate:"required,min=1"`
	FanMode  *FanMode `json:"fan_mode" validate:"required,min=0,max=2"`
}

func (r *fanModeRequest) targets() Entities { return r.EntityID }

func (r *fanModeRequest) apply(_ *Actions, p *patch) {
	p.fixed("fanCirculate", int64(*r.FanMode))
}

type fanSpeedRequest struct {
	EntityID Entities `json:"entity_id" validate:"required,min=1"`
	FanSpeed *Int     `json:"fan_speed" validate:"required,min=0,max=2"`
}

func (r *fanSpeedRequest) targets() Entities { return r.EntityID }

func (r *fanSpeedRequest) apply(_ *Actions, p *patch) {
	p.fixed("fanCirculateSpeed", int64(*r.FanSpeed))
}

type tempHoldRequest struct {
	EntityID Entities `json:"entity_id" validate:"required,min=1"`
	Heat     *Float   `json:"heat_temp_setpoint"`
	Cool     *Float   `json:"cool_temp_setpoint"`
	Duration *Int     `json:"hold_duration" validate:"omitnil,min=0"`
}

func (r *tempHoldRequest) targets() Entities { return r.EntityID }

func (r *tempHoldRequest) apply(_ *Actions, p *patch) {
	p.set("hspHome", r.Heat)
	p.set("cspHome", r.Cool)
	p.fixed("schedOverride", 1)
	p.set("schedOverrideDuration", r.Duration)
	p.round = []string{"hspHome", "cspHome"}
}

type permanentHoldRequest struct {
	EntityID Entities `json:"entity_id" validate:"required,min=1"`
	Heat     *Float   `json:"heat_temp_setpoint"`
	Cool     *Float   `json:"cool_temp_setpoint"`
}

func (r *permanentHoldRequest) targets() Entities { return r.EntityID }

func (r *permanentHoldRequest) apply(_ *Actions, p *patch) {
	p.set("hspHome", r.Heat)
	p.set("cspHome", r.Cool)
	p.fixed("schedOverride", 0)
	p.fixed("schedEnabled", false)
	p.round = []string{"hspHome", "cspHome"}
}

type awayRequest struct {
	EntityID Entities `json:"entity_id" validate:"required,min=1"`
	Away     *Bool    `json:"away" validate:"required"`
	Heat     *Float   `json:"heat_temp_setpoint"`
	Cool     *Float   `json:"cool_temp_setpoint"`
}

func (r *awayRequest) targets() Entities { return r.EntityID }

func (r *awayRequest) apply(_ *Actions, p *patch) {
	p.fixed("geofencingAway", bool(*r.Away))
	p.set("hspAway", r.Heat)
	p.set("cspAway", r.Cool)
	p.round = []string{"hspAway", "cspAway"}
}

type humidityRequest struct {
	EntityID Entities `json:"entity_id" validate:"required,min=1"`
	Low      *Float   `json:"humidity_low" validate:"omitnil,min=0,max=100"`
	High     *Float   `json:"humidity_high" validate:"omitnil,min=0,max=100"`
}

func (r *humidityRequest) targets() Entities { return r.EntityID }

func (r *humidityRequest) apply(_ *Actions, p *patch) {
	p.set("humSP", r.Low)
	p.set("dehumSP", r.High)
}
