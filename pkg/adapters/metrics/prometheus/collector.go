package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectionStatuses = []string{"disconnected", "connecting", "connected", "reconnecting", "error"}

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	validations      *prometheus.CounterVec
	runsStarted      prometheus.Counter
	runsFinished     *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	activeRuns       prometheus.Gauge
	nodeResults      *prometheus.CounterVec
	commands         *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	reconnects       prometheus.Counter
	heartbeatTimeout prometheus.Counter
	connectionStatus *prometheus.GaugeVec
}

// NewCollector creates a collector registered on reg. A nil reg uses the
// default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		validations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dago_studio_validations_total",
				Help: "Total number of workflow validations",
			},
			[]string{"result"},
		),
		runsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dago_studio_runs_started_total",
				Help: "Total number of runs started",
			},
		),
		runsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dago_studio_runs_finished_total",
				Help: "Total number of runs that reached a terminal status",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dago_studio_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dago_studio_active_runs",
				Help: "Number of runs in progress",
			},
		),
		nodeResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dago_studio_node_results_total",
				Help: "Total number of node status reports by node type and status",
			},
			[]string{"node_type", "status"},
		),
		commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dago_studio_commands_total",
				Help: "Total number of run-control commands sent",
			},
			[]string{"command", "result"},
		),
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dago_studio_messages_received_total",
				Help: "Total number of messages received from the execution backend",
			},
			[]string{"type"},
		),
		reconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dago_studio_reconnect_attempts_total",
				Help: "Total number of scheduled reconnect attempts",
			},
		),
		heartbeatTimeout: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dago_studio_heartbeat_timeouts_total",
				Help: "Total number of connections closed for missed pongs",
			},
		),
		connectionStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dago_studio_connection_status",
				Help: "1 for the current channel status, 0 for the others",
			},
			[]string{"status"},
		),
	}
}

// RecordValidation counts a validation pass
func (c *Collector) RecordValidation(valid bool) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	c.validations.WithLabelValues(result).Inc()
}

// RecordRunStarted counts a started run
func (c *Collector) RecordRunStarted() {
	c.runsStarted.Inc()
	c.activeRuns.Inc()
}

// RecordRunFinished counts a run reaching status and observes its duration
func (c *Collector) RecordRunFinished(status string, duration time.Duration) {
	c.runsFinished.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	c.activeRuns.Dec()
}

// RecordNodeResult counts a node status report
func (c *Collector) RecordNodeResult(nodeType, status string) {
	c.nodeResults.WithLabelValues(nodeType, status).Inc()
}

// RecordCommand counts a command and whether it was accepted
func (c *Collector) RecordCommand(command string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.commands.WithLabelValues(command, result).Inc()
}

// RecordMessageReceived counts an inbound message by type
func (c *Collector) RecordMessageReceived(messageType string) {
	c.messagesReceived.WithLabelValues(messageType).Inc()
}

// RecordReconnectAttempt counts a scheduled reconnect
func (c *Collector) RecordReconnectAttempt() {
	c.reconnects.Inc()
}

// RecordHeartbeatTimeout counts a heartbeat force-close
func (c *Collector) RecordHeartbeatTimeout() {
	c.heartbeatTimeout.Inc()
}

// SetConnectionStatus marks status as the current channel status
func (c *Collector) SetConnectionStatus(status string) {
	for _, s := range connectionStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		c.connectionStatus.WithLabelValues(s).Set(v)
	}
}
