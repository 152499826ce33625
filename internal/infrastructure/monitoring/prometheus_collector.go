package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports coordination metrics. It implements the
// registry's event hooks and is also fed directly by the signal server.
type PrometheusCollector struct {
	clientsOnline        prometheus.Gauge
	adminsConnected      prometheus.Gauge
	registrationsTotal   *prometheus.CounterVec
	notificationFailures prometheus.Counter
	signalsRelayed       *prometheus.CounterVec
	requestsQueued       prometheus.Counter
	malformedMessages    prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		clientsOnline: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peerlink_clients_online",
			Help: "Number of clients currently marked online",
		}),

		adminsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peerlink_admins_connected",
			Help: "Number of admin transports currently connected",
		}),

		registrationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_registrations_total",
			Help: "Total client registrations",
		}, []string{"kind"}),

		notificationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_admin_notification_failures_total",
			Help: "Total best-effort admin notifications that failed",
		}),

		signalsRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_signals_relayed_total",
			Help: "Total signaling messages relayed between endpoints",
		}, []string{"type"}),

		requestsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_requests_queued_total",
			Help: "Total requests queued for offline clients",
		}),

		malformedMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_malformed_messages_total",
			Help: "Total inbound messages dropped as malformed",
		}),
	}
}

func (p *PrometheusCollector) ClientRegistered(wasOnline, reconnect bool) {
	kind := "initial"
	if reconnect {
		kind = "reconnect"
	}
	p.registrationsTotal.WithLabelValues(kind).Inc()
	// A re-registration of an already-online client replaces its transport
	// without changing the online population.
	if !wasOnline {
		p.clientsOnline.Inc()
	}
}

func (p *PrometheusCollector) ClientWentOffline() {
	p.clientsOnline.Dec()
}

func (p *PrometheusCollector) NotificationFailed() {
	p.notificationFailures.Inc()
}

func (p *PrometheusCollector) AdminConnected()    { p.adminsConnected.Inc() }
func (p *PrometheusCollector) AdminDisconnected() { p.adminsConnected.Dec() }

func (p *PrometheusCollector) RecordSignalRelayed(messageType string) {
	p.signalsRelayed.WithLabelValues(messageType).Inc()
}

func (p *PrometheusCollector) RecordRequestQueued() {
	p.requestsQueued.Inc()
}

func (p *PrometheusCollector) RecordMalformedMessage() {
	p.malformedMessages.Inc()
}
