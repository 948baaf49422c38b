package skyport

import (
	"reflect"
	"strconv"
	"testing"

	"github.com/joshp123/gohome-skyport/internal/manifest"
)

func loadTestServices(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := LoadServices()
	if err != nil {
		t.Fatalf("LoadServices: %v", err)
	}
	return m
}

func TestServicesDeclared(t *testing.T) {
	m := loadTestServices(t)
	want := []string{
		"resume_program",
		"set_fan_schedule",
		"set_night_mode",
		"set_thermostat_schedule",
		"set_oneclean",
	}
	if got := m.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("services = %v, want %v", got, want)
	}
	for _, name := range want {
		if _, ok := operations[name]; !ok {
			t.Fatalf("service %s has no handler", name)
		}
	}
}

func TestServiceFieldOrder(t *testing.T) {
	m := loadTestServices(t)
	want := map[string][]string{
		"resume_program":          {"entity_id"},
		"set_fan_schedule":        {"entity_id", "start_time", "end_time", "interval", "fan_speed"},
		"set_night_mode":          {"entity_id", "start_time", "end_time", "enable"},
		"set_thermostat_schedule": {"entity_id", "day", "part", "start_time", "enable", "label", "heat_temp_setpoint", "cool_temp_setpoint"},
		"set_oneclean":            {"entity_id", "enable"},
	}
	for name, fields := range want {
		svc, _ := m.Service(name)
		if got := svc.FieldNames(); !reflect.DeepEqual(got, fields) {
			t.Fatalf("%s fields = %v, want %v", name, got, fields)
		}
	}
}

func TestServiceExamples(t *testing.T) {
	m := loadTestServices(t)

	fan, _ := m.Service("set_fan_schedule")
	interval, _ := fan.Field("interval")
	if interval.Example == nil || interval.Example.Value != "2" || interval.Example.Kind != manifest.KindString {
		t.Fatalf("interval example = %+v, want the text \"2\"", interval.Example)
	}
	speed, _ := fan.Field("fan_speed")
	if speed.Example != nil {
		t.Fatalf("fan_speed should have no example, got %+v", speed.Example)
	}

	schedule, _ := m.Service("set_thermostat_schedule")
	part, _ := schedule.Field("part")
	if part.Example == nil {
		t.Fatalf("part example missing")
	}
	n, err := strconv.Atoi(part.Example.Value)
	if err != nil || n < 1 || n > 6 {
		t.Fatalf("part example %q outside 1-6", part.Example.Value)
	}
	day, _ := schedule.Field("day")
	if day.Example == nil || !contains(weekdays, day.Example.Value) {
		t.Fatalf("day example = %+v, want a weekday", day.Example)
	}
}

// Every example must pass the same checks as real call data.
func TestServiceExamplesDecode(t *testing.T) {
	m := loadTestServices(t)
	for _, svc := range m.Services {
		data := map[string]any{}
		for _, field := range svc.Fields {
			if field.Example != nil {
				data[field.Name] = field.Example.Interface()
			}
		}
		if err := svc.Conform(data); err != nil {
			t.Fatalf("%s: %v", svc.Name, err)
		}
		if err := decode(svc.Name, data, operations[svc.Name]()); err != nil {
			t.Fatalf("%s examples rejected: %v", svc.Name, err)
		}
	}
}

func TestMethodName(t *testing.T) {
	cases := map[string]string{
		"resume_program":          "ResumeProgram",
		"set_thermostat_schedule": "SetThermostatSchedule",
		"set_oneclean":            "SetOneclean",
	}
	for in, want := range cases {
		if got := methodName(in); got != want {
			t.Fatalf("methodName(%q) = %q, want %q", in, got, want)
		}
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
