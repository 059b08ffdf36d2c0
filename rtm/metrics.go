package rtm

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes client counters to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	pdusReceived  *prometheus.CounterVec
	pdusSent      *prometheus.CounterVec
	pdusDropped   *prometheus.CounterVec
	events        *prometheus.CounterVec
	reconnects    prometheus.Counter
	subscriptions prometheus.Gauge
}

// Reasons recorded for dropped PDUs.
const (
	DropMissingSubscriptionID = "missing_subscription_id"
	DropUnknownSubscription   = "unknown_subscription"
	DropUndecodable           = "undecodable"
)

// NewMetrics creates the collectors and registers them with registerer. A
// nil registerer leaves them unregistered.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		pdusReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtm",
			Subsystem: "client",
			Name:      "pdus_received_total",
			Help:      "Inbound PDUs decoded, by action.",
		}, []string{"action"}),
		pdusSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtm",
			Subsystem: "client",
			Name:      "pdus_sent_total",
			Help:      "Outbound PDUs written to the transport, by action.",
		}, []string{"action"}),
		pdusDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtm",
			Subsystem: "client",
			Name:      "pdus_dropped_total",
			Help:      "Inbound PDUs that could not be routed, by reason.",
		}, []string{"reason"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtm",
			Subsystem: "client",
			Name:      "events_total",
			Help:      "Subscription events delivered to handlers, by type.",
		}, []string{"type"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtm",
			Subsystem: "client",
			Name:      "reconnects_total",
			Help:      "Successful reconnects after a lost connection.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtm",
			Subsystem: "client",
			Name:      "subscriptions",
			Help:      "Subscriptions registered with the subscription manager.",
		}),
	}
	if registerer == nil {
		return metrics, nil
	}
	for _, collector := range []prometheus.Collector{
		metrics.pdusReceived,
		metrics.pdusSent,
		metrics.pdusDropped,
		metrics.events,
		metrics.reconnects,
		metrics.subscriptions,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (metrics *Metrics) received(action string) {
	if metrics == nil {
		return
	}
	metrics.pdusReceived.WithLabelValues(action).Inc()
}

func (metrics *Metrics) sent(action string) {
	if metrics == nil {
		return
	}
	metrics.pdusSent.WithLabelValues(action).Inc()
}

func (metrics *Metrics) dropped(reason string) {
	if metrics == nil {
		return
	}
	metrics.pdusDropped.WithLabelValues(reason).Inc()
}

func (metrics *Metrics) event(eventType EventType) {
	if metrics == nil {
		return
	}
	metrics.events.WithLabelValues(eventType.String()).Inc()
}

func (metrics *Metrics) reconnected() {
	if metrics == nil {
		return
	}
	metrics.reconnects.Inc()
}

func (metrics *Metrics) setSubscriptions(count int) {
	if metrics == nil {
		return
	}
	metrics.subscriptions.Set(float64(count))
}
