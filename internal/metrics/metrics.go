package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Telegrams = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "p1_telegrams_total",
			Help: "P1 telegrams received, by outcome.",
		},
		[]string{"result"},
	)

	DataPointsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapoints_written_total",
			Help: "Rows inserted into PostgreSQL.",
		},
		[]string{"table"},
	)
	DataPointWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapoint_write_errors_total",
			Help: "Failed PostgreSQL inserts.",
		},
		[]string{"table"},
	)

	MirrorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_errors_total",
			Help: "Failed writes to optional mirrors.",
		},
		[]string{"sink"},
	)

	InverterConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inverter_connects_total",
			Help: "Modbus connection attempts to the inverter.",
		},
		[]string{"result"},
	)
	InverterOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inverter_online",
		Help: "1 while the inverter connection is up.",
	})

	GridMeterRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_meter_requests_total",
			Help: "Modbus requests served by the emulated grid meter.",
		},
		[]string{"register", "result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served.",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)
