package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Scans          prometheus.Counter
	UnitsSent      prometheus.Counter
	UnitsDropped   prometheus.Counter
	CommandsSent   prometheus.Counter
	SensorFailures prometheus.Counter
	Occupied       prometheus.Gauge
}

// NewMetrics registers the grid metrics on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Scans: f.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_scans_total",
			Help: "Completed sensor scans.",
		}),
		UnitsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_units_sent_total",
			Help: "Transmission units written to the remote service.",
		}),
		UnitsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_units_dropped_total",
			Help: "Transmission units lost because the session could not send them.",
		}),
		CommandsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_commands_sent_total",
			Help: "Command lines inside sent transmission units.",
		}),
		SensorFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_sensor_read_failures_total",
			Help: "Sensor reads that failed and were counted as vacant.",
		}),
		Occupied: f.NewGauge(prometheus.GaugeOpts{
			Name: "gridsync_occupied_cells",
			Help: "Cells occupied in the latest scan.",
		}),
	}
}
