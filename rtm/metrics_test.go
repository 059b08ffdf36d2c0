package rtm

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoop(t *testing.T) {
	var metrics *Metrics
	metrics.received(ActionSubscribeOK)
	metrics.sent(ActionSubscribe)
	metrics.dropped(DropUndecodable)
	metrics.event(EventData)
	metrics.reconnected()
	metrics.setSubscriptions(3)
}

func TestMetricsRegisterAndCount(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	if err != nil {
		t.Fatalf("unexpected metrics error: %v", err)
	}
	metrics.event(EventData)
	metrics.event(EventData)
	metrics.reconnected()

	expected := `
# HELP rtm_client_events_total Subscription events delivered to handlers, by type.
# TYPE rtm_client_events_total counter
rtm_client_events_total{type="DATA"} 2
`
	if err = promtestutil.GatherAndCompare(registry, strings.NewReader(expected), "rtm_client_events_total"); err != nil {
		t.Fatalf("unexpected events metric: %v", err)
	}
	if got := promtestutil.ToFloat64(metrics.reconnects); got != 1 {
		t.Fatalf("unexpected reconnects: %v", got)
	}

	if _, err = NewMetrics(registry); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if unregistered, err := NewMetrics(nil); err != nil || unregistered == nil {
		t.Fatalf("expected unregistered metrics, got %v %v", unregistered, err)
	}
}
