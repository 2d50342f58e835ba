package observability

import (
	"live-queue/domain/event"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livequeue"

// Metrics groups every realtime collector. Each instance registers on its own
// registerer so tests can build as many as they need.
type Metrics struct {
	Connections      prometheus.Gauge
	OnlineUsers      prometheus.Gauge
	EventsPublished  *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
	HandshakeRejects *prometheus.CounterVec
	QueueLength      *prometheus.GaugeVec
	QueueCapacity    *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of live realtime connections",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Number of distinct users with at least one live connection",
		}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events handed to the fan-out, by type",
		}, []string{"type"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Successful per-connection deliveries, by type",
		}, []string{"type"}),
		DeliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Per-connection deliveries that failed and were dropped, by type",
		}, []string{"type"}),
		HandshakeRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_rejections_total",
			Help:      "Realtime handshakes refused, by reason",
		}, []string{"reason"}),
		QueueLength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Current number of buffered events per internal channel",
		}, []string{"channel"}),
		QueueCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_capacity",
			Help:      "Capacity of each internal channel",
		}, []string{"channel"}),
	}
}

func (m *Metrics) Delivered(t event.Type, ok bool) {
	if ok {
		m.Deliveries.WithLabelValues(string(t)).Inc()
		return
	}
	m.DeliveryFailures.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) SetPresence(connections, onlineUsers int) {
	m.Connections.Set(float64(connections))
	m.OnlineUsers.Set(float64(onlineUsers))
}
