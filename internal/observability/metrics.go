package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects bot metrics. It satisfies both commands.Recorder and
// plugins.Recorder, so one instance is shared by the dispatcher and the
// extension manager.
type Metrics struct {
	// CommandCounter counts dispatched commands.
	// Labels: command (canonical path), status (ok|argument|check|handler)
	CommandCounter *prometheus.CounterVec

	// CommandDuration measures dispatch time in seconds, from binding to
	// handler return.
	// Labels: command
	CommandDuration *prometheus.HistogramVec

	// ExtensionOps counts extension lifecycle operations.
	// Labels: op (load|unload|reload|enable|disable), status
	ExtensionOps *prometheus.CounterVec

	// ExtensionsLoaded is the number of extensions currently loaded.
	ExtensionsLoaded prometheus.Gauge

	// MessageCounter tracks messages by channel and direction.
	// Labels: channel (telegram|discord|slack), direction (inbound|outbound)
	MessageCounter *prometheus.CounterVec

	// SendErrors counts failed outbound sends.
	// Labels: channel, code
	SendErrors *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. A nil reg uses
// the Prometheus default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CommandCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cogbot_commands_total",
				Help: "Total number of dispatched commands by command and status",
			},
			[]string{"command", "status"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cogbot_command_duration_seconds",
				Help:    "Duration of command dispatch in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"command"},
		),
		ExtensionOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cogbot_extension_operations_total",
				Help: "Total number of extension lifecycle operations by operation and status",
			},
			[]string{"op", "status"},
		),
		ExtensionsLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cogbot_extensions_loaded",
				Help: "Number of currently loaded extensions",
			},
		),
		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cogbot_messages_total",
				Help: "Total number of messages by channel and direction",
			},
			[]string{"channel", "direction"},
		),
		SendErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cogbot_send_errors_total",
				Help: "Total number of failed outbound messages by channel and error code",
			},
			[]string{"channel", "code"},
		),
	}
}

// ObserveCommand records one dispatched command.
func (m *Metrics) ObserveCommand(command, status string, duration time.Duration) {
	m.CommandCounter.WithLabelValues(command, status).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// ObserveExtension records one extension lifecycle operation.
func (m *Metrics) ObserveExtension(op, status string) {
	m.ExtensionOps.WithLabelValues(op, status).Inc()
}

func (m *Metrics) SetExtensionsLoaded(n int) {
	m.ExtensionsLoaded.Set(float64(n))
}

func (m *Metrics) MessageReceived(channel string) {
	m.MessageCounter.WithLabelValues(channel, "inbound").Inc()
}

func (m *Metrics) MessageSent(channel string) {
	m.MessageCounter.WithLabelValues(channel, "outbound").Inc()
}

func (m *Metrics) SendFailed(channel, code string) {
	m.SendErrors.WithLabelValues(channel, code).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
