package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hackgame",
			Subsystem: "protocol",
			Name:      "packets_total",
			Help:      "Packets handled by type and direction.",
		},
		[]string{"type", "direction"},
	)
	violations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hackgame",
			Subsystem: "protocol",
			Name:      "violations_total",
			Help:      "Inbound packets dropped as protocol violations.",
		},
		[]string{"reason"},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hackgame",
			Subsystem: "command",
			Name:      "executions_total",
			Help:      "Command executions by outcome kind.",
		},
		[]string{"command", "outcome"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hackgame",
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Command execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	activeConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hackgame",
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Open client connections by transport.",
		},
		[]string{"transport"},
	)
	residentHosts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hackgame",
			Subsystem: "registry",
			Name:      "resident_hosts",
			Help:      "Hosts currently resident in the registry.",
		},
	)
	syncedHosts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hackgame",
			Subsystem: "registry",
			Name:      "synced_hosts_total",
			Help:      "Hosts written back by periodic or shutdown flushes.",
		},
	)
	syncFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hackgame",
			Subsystem: "registry",
			Name:      "sync_failures_total",
			Help:      "Flush passes that returned at least one error.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			packets,
			violations,
			commands,
			commandDuration,
			activeConnections,
			residentHosts,
			syncedHosts,
			syncFailures,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordPacket(packetType, direction string) {
	RegisterMetrics()
	packets.WithLabelValues(packetType, direction).Inc()
}

func RecordViolation(reason string) {
	RegisterMetrics()
	violations.WithLabelValues(reason).Inc()
}

// RecordCommand records one execution. outcome is "ok" or a fault kind.
func RecordCommand(command, outcome string, duration time.Duration) {
	RegisterMetrics()
	commands.WithLabelValues(command, outcome).Inc()
	commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func ConnectionOpened(transport string) {
	RegisterMetrics()
	activeConnections.WithLabelValues(transport).Inc()
}

func ConnectionClosed(transport string) {
	RegisterMetrics()
	activeConnections.WithLabelValues(transport).Dec()
}

func SetResidentHosts(n int) {
	RegisterMetrics()
	residentHosts.Set(float64(n))
}

func RecordFlush(synced int, err error) {
	RegisterMetrics()
	syncedHosts.Add(float64(synced))
	if err != nil {
		syncFailures.Inc()
	}
}
