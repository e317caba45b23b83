package kumo

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exports device status as prometheus metrics. Each
// scrape performs one AllDevices read; refresh is deliberately off so
// a scrape never ties up the realtime channel.
type MetricsCollector struct {
	client *Client

	roomTemp    *prometheus.GaugeVec
	coolSp      *prometheus.GaugeVec
	heatSp      *prometheus.GaugeVec
	humidity    *prometheus.GaugeVec
	powerOn     *prometheus.GaugeVec
	connected   *prometheus.GaugeVec
	rssi        *prometheus.GaugeVec
	lastSuccess prometheus.Gauge
	success     prometheus.Gauge
}

func NewMetricsCollector(client *Client) *MetricsCollector {
	labels := []string{"serial", "name"}
	return &MetricsCollector{
		client: client,
		roomTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kumo_room_temperature_celsius",
			Help: "Current room temperature per device",
		}, labels),
		coolSp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kumo_cool_setpoint_celsius",
			Help: "Cooling setpoint per device",
		}, labels),
		heatSp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kumo_heat_setpoint_celsius",
			Help: "Heating setpoint per device",
		}, labels),
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kumo_humidity_percent",
			Help: "Current humidity per device",
		}, labels),
		powerOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kumo_power_on_bool",
			Help: "Power state per device (1=on, 0=off)",
		}, labels),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kumo_connected_bool",
			Help: "Cloud connectivity per device (1=online, 0=offline)",
		}, labels),
		rssi: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kumo_wifi_rssi_dbm",
			Help: "WiFi signal strength per device",
		}, labels),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kumo_last_success_timestamp_seconds",
			Help: "Last successful Kumo Cloud scrape timestamp (epoch seconds)",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kumo_scrape_success",
			Help: "Last scrape success (1=ok, 0=error)",
		}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.roomTemp.Describe(ch)
	c.coolSp.Describe(ch)
	c.heatSp.Describe(ch)
	c.humidity.Describe(ch)
	c.powerOn.Describe(ch)
	c.connected.Describe(ch)
	c.rssi.Describe(ch)
	c.lastSuccess.Describe(ch)
	c.success.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	devices, err := c.client.AllDevices(ctx, StatusOptions{Full: true})
	if err != nil {
		c.success.Set(0)
		c.collectAll(ch)
		return
	}

	c.roomTemp.Reset()
	c.coolSp.Reset()
	c.heatSp.Reset()
	c.humidity.Reset()
	c.powerOn.Reset()
	c.connected.Reset()
	c.rssi.Reset()

	for _, d := range devices {
		labels := prometheus.Labels{"serial": d.Serial, "name": d.Name}
		if d.RoomTemperatureC != nil {
			c.roomTemp.With(labels).Set(*d.RoomTemperatureC)
		}
		if d.CoolSetpointC != nil {
			c.coolSp.With(labels).Set(*d.CoolSetpointC)
		}
		if d.HeatSetpointC != nil {
			c.heatSp.With(labels).Set(*d.HeatSetpointC)
		}
		if d.Humidity != nil {
			c.humidity.With(labels).Set(float64(*d.Humidity))
		}
		if d.RSSI != nil {
			c.rssi.With(labels).Set(float64(*d.RSSI))
		}
		c.powerOn.With(labels).Set(boolGauge(d.Power))
		c.connected.With(labels).Set(boolGauge(d.Connected))
	}

	c.success.Set(1)
	c.lastSuccess.SetToCurrentTime()
	c.collectAll(ch)
}

func (c *MetricsCollector) collectAll(ch chan<- prometheus.Metric) {
	c.roomTemp.Collect(ch)
	c.coolSp.Collect(ch)
	c.heatSp.Collect(ch)
	c.humidity.Collect(ch)
	c.powerOn.Collect(ch)
	c.connected.Collect(ch)
	c.rssi.Collect(ch)
	c.lastSuccess.Collect(ch)
	c.success.Collect(ch)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
