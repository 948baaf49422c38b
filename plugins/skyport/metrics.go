package skyport

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var serviceCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gohome_skyport_service_calls_total",
		Help: "Service calls handled by the Skyport plugin",
	},
	[]string{"service", "result"},
)

// MetricsCollector exports thermostat readings on each scrape.
type MetricsCollector struct {
	client *Client

	success  prometheus.Gauge
	sensor   *prometheus.GaugeVec
	setpoint *prometheus.GaugeVec
	mode     *prometheus.GaugeVec
	fanMode  *prometheus.GaugeVec
	hold     *prometheus.GaugeVec
	away     *prometheus.GaugeVec
}

func NewMetricsCollector(client *Client) *MetricsCollector {
	labels := []string{"device_id", "device_name"}
	return &MetricsCollector{
		client: client,
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gohome_skyport_scrape_success",
			Help: "Last scrape success (1=ok, 0=error)",
		}),
		sensor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_skyport_sensor",
			Help: "Derived thermostat sensor reading",
		}, []string{"device_id", "device_name", "key", "type"}),
		setpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_skyport_setpoint_celsius",
			Help: "Active heat and cool setpoints (celsius)",
		}, []string{"device_id", "device_name", "kind"}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_skyport_hvac_mode",
			Help: "HVAC mode (0=off, 1=heat, 2=cool, 3=auto, 4=auxheat)",
		}, labels),
		fanMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_skyport_fan_mode",
			Help: "Fan circulation mode (0=auto, 1=on, 2=schedule)",
		}, labels),
		hold: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_skyport_schedule_override",
			Help: "Schedule override state (0=schedule, 1=hold)",
		}, labels),
		away: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_skyport_away",
			Help: "Whether away mode is active (1=away, 0=home)",
		}, labels),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.success.Describe(ch)
	c.sensor.Describe(ch)
	c.setpoint.Describe(ch)
	c.mode.Describe(ch)
	c.fanMode.Describe(ch)
	c.hold.Describe(ch)
	c.away.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	thermostats, err := c.client.Thermostats(ctx)
	if err != nil {
		c.success.Set(0)
		c.collect(ch)
		return
	}

	c.sensor.Reset()
	c.setpoint.Reset()
	c.mode.Reset()
	c.fanMode.Reset()
	c.hold.Reset()
	c.away.Reset()

	for _, t := range thermostats {
		labels := prometheus.Labels{"device_id": t.ID, "device_name": t.Name}
		for _, s := range Sensors(t) {
			c.sensor.With(prometheus.Labels{
				"device_id":   t.ID,
				"device_name": t.Name,
				"key":         s.Key,
				"type":        s.Type,
			}).Set(s.Value)
		}
		if v, ok := t.Data.Float("hspActive"); ok {
			c.setpoint.With(prometheus.Labels{"device_id": t.ID, "device_name": t.Name, "kind": "heat"}).Set(v)
		}
		if v, ok := t.Data.Float("cspActive"); ok {
			c.setpoint.With(prometheus.Labels{"device_id": t.ID, "device_name": t.Name, "kind": "cool"}).Set(v)
		}
		if v, ok := t.Data.Float("mode"); ok {
			c.mode.With(labels).Set(v)
		}
		if v, ok := t.Data.Float("fanCirculate"); ok {
			c.fanMode.With(labels).Set(v)
		}
		if v, ok := t.Data.Float("schedOverride"); ok {
			c.hold.With(labels).Set(v)
		}
		if v, ok := t.Data.Bool("geofencingAway"); ok {
			c.away.With(labels).Set(boolToFloat(v))
		}
	}

	c.success.Set(1)
	c.collect(ch)
}

func (c *MetricsCollector) collect(ch chan<- prometheus.Metric) {
	c.success.Collect(ch)
	c.sensor.Collect(ch)
	c.setpoint.Collect(ch)
	c.mode.Collect(ch)
	c.fanMode.Collect(ch)
	c.hold.Collect(ch)
	c.away.Collect(ch)
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
