package skyport

import (
	"encoding/json"
	"math"
	"strings"
	"unicode"
)

// HVAC modes as reported in the mode key.
const (
	ModeOff     = 0
	ModeHeat    = 1
	ModeCool    = 2
	ModeAuto    = 3
	ModeAuxHeat = 4
)

var hvacModes = map[string]int{
	"off":     ModeOff,
	"heat":    ModeHeat,
	"cool":    ModeCool,
	"auto":    ModeAuto,
	"auxheat": ModeAuxHeat,
}

// Fan circulation modes as reported in the fanCirculate key.
const (
	FanAuto     = 0
	FanOn       = 1
	FanSchedule = 2
)

var fanModes = map[string]int{
	"auto":     FanAuto,
	"on":       FanOn,
	"schedule": FanSchedule,
}

// percentMultiplier scales the ct* demand values the thermostat reports.
const percentMultiplier = 2

const ozoneFactor = 1.96

// Device is one entry of the account device list.
type Device struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model,omitempty"`
}

// EntityID is the climate entity name derived from the device name.
func (d Device) EntityID() string {
	return "climate." + slug(d.Name)
}

// DeviceData is the flat deviceData document of one thermostat.
type DeviceData map[string]any

func (d DeviceData) Float(key string) (float64, bool) {
	switch v := d[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func (d DeviceData) Bool(key string) (bool, bool) {
	switch v := d[key].(type) {
	case bool:
		return v, true
	case float64:
		return v != 0, true
	default:
		return false, false
	}
}

func (d DeviceData) String(key string) (string, bool) {
	v, ok := d[key].(string)
	return v, ok
}

// Thermostat pairs a device with its latest data.
type Thermostat struct {
	Device
	Data DeviceData
}

func slug(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
