package monitoring

import (
	"time"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

type PrometheusCollector struct {
	// Sessions
	sessionsActive     prometheus.Gauge
	sessionsCreated    prometheus.Counter
	sessionTransitions *prometheus.CounterVec
	sessionsEnded      *prometheus.CounterVec
	sessionLifetime    prometheus.Histogram

	// Connections
	connectionsActive *prometheus.GaugeVec
	connectionsClosed *prometheus.CounterVec

	// Messages
	messagesTotal *prometheus.CounterVec
	dropsTotal    *prometheus.CounterVec
}

// NewPrometheusCollector registers the coordinator metrics with reg. A nil
// reg uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livesignal_sessions_active",
			Help: "Number of sessions that have not ended",
		}),

		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "livesignal_sessions_created_total",
			Help: "Total number of sessions created",
		}),

		sessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livesignal_session_transitions_total",
			Help: "Session state transitions by target state",
		}, []string{"state"}),

		sessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livesignal_sessions_ended_total",
			Help: "Total number of ended sessions by end reason",
		}, []string{"reason"}),

		sessionLifetime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "livesignal_session_lifetime_seconds",
			Help:    "Time from session creation to termination",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),

		connectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livesignal_connections_active",
			Help: "Open signaling connections by role",
		}, []string{"role"}),

		connectionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livesignal_connections_closed_total",
			Help: "Closed signaling connections by role and close reason",
		}, []string{"role", "reason"}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livesignal_messages_total",
			Help: "Signaling messages accepted by kind",
		}, []string{"kind"}),

		dropsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livesignal_messages_dropped_total",
			Help: "Signaling messages dropped by reason",
		}, []string{"reason"}),
	}
}

func (p *PrometheusCollector) RecordSessionCreated(id domain.SessionID) {
	p.sessionsActive.Inc()
	p.sessionsCreated.Inc()
}

func (p *PrometheusCollector) RecordSessionState(id domain.SessionID, state domain.SessionState) {
	p.sessionTransitions.WithLabelValues(state.String()).Inc()
}

func (p *PrometheusCollector) RecordSessionEnded(id domain.SessionID, reason domain.EndReason, lifetime time.Duration) {
	p.sessionsActive.Dec()
	p.sessionsEnded.WithLabelValues(string(reason)).Inc()
	p.sessionLifetime.Observe(lifetime.Seconds())
}

func (p *PrometheusCollector) RecordConnectionOpened(role domain.Role) {
	p.connectionsActive.WithLabelValues(string(role)).Inc()
}

func (p *PrometheusCollector) RecordConnectionClosed(role domain.Role, reason domain.CloseReason) {
	p.connectionsActive.WithLabelValues(string(role)).Dec()
	p.connectionsClosed.WithLabelValues(string(role), string(reason)).Inc()
}

func (p *PrometheusCollector) RecordMessage(kind domain.MessageKind) {
	p.messagesTotal.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) RecordDrop(reason string) {
	p.dropsTotal.WithLabelValues(reason).Inc()
}
