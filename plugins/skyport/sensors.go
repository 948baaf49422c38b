package skyport

import "fmt"

// Sensor is one derived reading of a thermostat.
type Sensor struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

type sensorSpec struct {
	key    string
	suffix string
	kind   string
	scale  func(float64) float64
}

func raw(v float64) float64 { return v }

func percent(v float64) float64 { return round(v/percentMultiplier, 1) }

func ozone(v float64) float64 { return round(v*ozoneFactor, 0) }

var baseSensors = []sensorSpec{
	{"tempOutdoor", "Outdoor", "temperature", raw},
	{"humOutdoor", "Outdoor", "humidity", raw},
	{"ctOutdoorFanRequestedDemandPercentage", "Outdoor fan", "demand", percent},
	{"ctOutdoorHeatRequestedDemand", "Outdoor heat pump", "demand", percent},
	{"ctOutdoorCoolRequestedDemand", "Outdoor cooling", "demand", percent},
	{"ctOutdoorPower", "Outdoor", "power", raw},
	{"ctOutdoorFrequencyInPercent", "Outdoor", "frequency_percent", percent},
	{"tempIndoor", "Indoor", "temperature", raw},
	{"humIndoor", "Indoor", "humidity", raw},
	{"ctIFCFanRequestedDemandPercent", "Indoor fan", "demand", percent},
	{"ctIFCCurrentFanActualStatus", "Indoor fan", "actual_status", percent},
	{"ctIFCCoolRequestedDemandPercent", "Indoor cooling", "demand", percent},
	{"ctIFCCurrentCoolActualStatus", "Indoor cooling", "actual_status", percent},
	{"ctIFCHeatRequestedDemandPercent", "Indoor furnace", "demand", percent},
	{"ctIFCCurrentHeatActualStatus", "Indoor furnace", "actual_status", percent},
	{"ctIFCHumRequestedDemandPercent", "Indoor humidifier", "demand", percent},
	{"ctIFCDehumRequestedDemandPercent", "Indoor dehumidifier", "demand", percent},
	{"ctIndoorPower", "Indoor", "power", raw},
}

var outdoorAirSensors = []sensorSpec{
	{"aqOutdoorParticles", "Outdoor", "particle", raw},
	{"aqOutdoorValue", "Outdoor", "score", raw},
	{"aqOutdoorOzone", "Outdoor", "ozone", ozone},
}

var indoorAirSensors = []sensorSpec{
	{"aqIndoorParticlesValue", "Indoor", "particle", raw},
	{"aqIndoorValue", "Indoor", "score", raw},
	{"aqIndoorVOCValue", "Indoor", "VOC", raw},
}

// Sensors derives the readings a thermostat reports. Air quality readings are
// included only when the matching sensor is installed. Keys the thermostat
// does not report are skipped.
func Sensors(t Thermostat) []Sensor {
	specs := append([]sensorSpec(nil), baseSensors...)
	if available, _ := t.Data.Bool("aqOutdoorAvailable"); available {
		specs = append(specs, outdoorAirSensors...)
	}
	if available, _ := t.Data.Bool("aqIndoorAvailable"); available {
		specs = append(specs, indoorAirSensors...)
	}

	out := make([]Sensor, 0, len(specs))
	for _, spec := range specs {
		v, ok := t.Data.Float(spec.key)
		if !ok {
			continue
		}
		out = append(out, Sensor{
			Name:  fmt.Sprintf("%s %s", t.Name, spec.suffix),
			Type:  spec.kind,
			Key:   spec.key,
			Value: spec.scale(v),
		})
	}
	return out
}

func (s Sensor) Values() map[string]any {
	return map[string]any{
		"name":  s.Name,
		"type":  s.Type,
		"key":   s.Key,
		"value": s.Value,
	}
}
