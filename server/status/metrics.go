package status

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "klf"

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	Sessions     prometheus.Gauge
	Messages     *prometheus.CounterVec
	BytesSent    prometheus.Counter
	Refusals     *prometheus.CounterVec
	Throttled    *prometheus.CounterVec
	Screenshots  prometheus.Counter
	Crafts       prometheus.Counter
	Datagrams    *prometheus.CounterVec
	Disconnects  *prometheus.CounterVec
	FlushLatency prometheus.Histogram
}

// NewMetrics registers the relay collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of occupied client slots",
		}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Client messages handled, by message type",
		}, []string{"type"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Bytes written to client connections",
		}),
		Refusals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refusals_total",
			Help:      "Connections refused before or during the handshake",
		}, []string{"reason"}),
		Throttled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_total",
			Help:      "Actions suppressed by flood control",
		}, []string{"kind"}),
		Screenshots: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "screenshots_shared_total",
			Help:      "Screenshots accepted into a backlog",
		}),
		Crafts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crafts_shared_total",
			Help:      "Craft files shared",
		}),
		Datagrams: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_datagrams_total",
			Help:      "UDP datagrams received, by outcome",
		}, []string{"result"}),
		Disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Ended sessions, by whether the end was intentional",
		}, []string{"intentional"}),
		FlushLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent writing one outbound batch",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}
