package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cowatch/internal/protocol"
)

// Collector defines the metrics the core reports.
type Collector interface {
	// Connection metrics
	ConnectAttempt(result string)
	ConnectionLost()
	RTT(sample time.Duration)

	// Protocol metrics
	Inbound(actionType protocol.ActionType)
	Outbound(actionType protocol.ActionType, result string)

	// Reflection metrics
	Sampled(kind string)
	PlayerCommand(op string)

	// Handler returns an HTTP handler for the metrics endpoint
	Handler() http.Handler
}

// PrometheusCollector implements Collector on a prometheus registry.
type PrometheusCollector struct {
	gatherer prometheus.Gatherer

	connectAttempts *prometheus.CounterVec
	connectionsLost prometheus.Counter
	rtt             prometheus.Histogram

	inbound  *prometheus.CounterVec
	outbound *prometheus.CounterVec

	samples        *prometheus.CounterVec
	playerCommands *prometheus.CounterVec
}

// NewPrometheusCollector registers the collectors on reg. A nil reg uses the default
// registry.
func NewPrometheusCollector(reg *prometheus.Registry) *PrometheusCollector {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)
	return &PrometheusCollector{
		gatherer: gatherer,

		connectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cowatch_relay_connect_attempts_total",
				Help: "Relay handshake attempts by result",
			},
			[]string{"result"},
		),
		connectionsLost: factory.NewCounter(prometheus.CounterOpts{
			Name: "cowatch_relay_connections_lost_total",
			Help: "Connections declared lost by the heartbeat",
		}),
		rtt: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cowatch_relay_rtt_seconds",
			Help:    "Ping/Pong round trip samples",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),

		inbound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cowatch_messages_received_total",
				Help: "Relay messages received by action type",
			},
			[]string{"action_type"},
		),
		outbound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cowatch_requests_total",
				Help: "Client requests by action type and outcome",
			},
			[]string{"action_type", "result"},
		),

		samples: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cowatch_reflection_samples_total",
				Help: "Host samples published by kind",
			},
			[]string{"kind"},
		),
		playerCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cowatch_player_commands_total",
				Help: "Corrective viewer player commands by operation",
			},
			[]string{"op"},
		),
	}
}

func (c *PrometheusCollector) ConnectAttempt(result string) {
	c.connectAttempts.WithLabelValues(result).Inc()
}

func (c *PrometheusCollector) ConnectionLost() {
	c.connectionsLost.Inc()
}

func (c *PrometheusCollector) RTT(sample time.Duration) {
	c.rtt.Observe(sample.Seconds())
}

func (c *PrometheusCollector) Inbound(actionType protocol.ActionType) {
	c.inbound.WithLabelValues(string(actionType)).Inc()
}

func (c *PrometheusCollector) Outbound(actionType protocol.ActionType, result string) {
	c.outbound.WithLabelValues(string(actionType), result).Inc()
}

func (c *PrometheusCollector) Sampled(kind string) {
	c.samples.WithLabelValues(kind).Inc()
}

func (c *PrometheusCollector) PlayerCommand(op string) {
	c.playerCommands.WithLabelValues(op).Inc()
}

func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) ConnectAttempt(string)                {}
func (Nop) ConnectionLost()                      {}
func (Nop) RTT(time.Duration)                    {}
func (Nop) Inbound(protocol.ActionType)          {}
func (Nop) Outbound(protocol.ActionType, string) {}
func (Nop) Sampled(string)                       {}
func (Nop) PlayerCommand(string)                 {}
func (Nop) Handler() http.Handler                { return http.NotFoundHandler() }
