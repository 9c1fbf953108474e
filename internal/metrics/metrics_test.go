package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// newTestCollector creates a Collector registered with a fresh registry
// so tests don't conflict with each other or with the default registry.
func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	c := New()
	return c, c.Registry
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestUpdatePoolStats(t *testing.T) {
	c, _ := newTestCollector(t)

	c.UpdatePoolStats(3, 5, 8, 1)

	if v := getGaugeValue(c.connectionsActive); v != 3 {
		t.Errorf("expected active=3, got %v", v)
	}
	if v := getGaugeValue(c.connectionsIdle); v != 5 {
		t.Errorf("expected idle=5, got %v", v)
	}
	if v := getGaugeValue(c.connectionsTotal); v != 8 {
		t.Errorf("expected total=8, got %v", v)
	}
	if v := getGaugeValue(c.connectionsWaiting); v != 1 {
		t.Errorf("expected waiting=1, got %v", v)
	}

	// A second call replaces (not increments) the value.
	c.UpdatePoolStats(2, 4, 6, 0)
	if v := getGaugeValue(c.connectionsActive); v != 2 {
		t.Errorf("expected active=2 after update, got %v", v)
	}
}

func TestPoolExhausted(t *testing.T) {
	c, _ := newTestCollector(t)

	c.PoolExhausted()
	c.PoolExhausted()
	c.PoolExhausted()

	if v := getCounterValue(c.poolExhaustedTotal); v != 3 {
		t.Errorf("expected exhausted=3, got %v", v)
	}
}

func TestAcquireDuration(t *testing.T) {
	c, reg := newTestCollector(t)

	c.AcquireDuration(5 * time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "gelclient_acquire_duration_seconds" {
			found = true
			m := f.GetMetric()
			if len(m) > 0 && m[0].GetHistogram().GetSampleCount() != 1 {
				t.Errorf("expected 1 acquire sample, got %d", m[0].GetHistogram().GetSampleCount())
			}
		}
	}
	if !found {
		t.Error("acquire duration metric not found")
	}
}

func TestQueryDuration(t *testing.T) {
	c, reg := newTestCollector(t)

	c.QueryDuration("many", 100*time.Millisecond)
	c.QueryDuration("many", 200*time.Millisecond)
	c.QueryDuration("one", 50*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "gelclient_query_duration_seconds" {
			found = true
			for _, m := range f.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "cardinality" && l.GetValue() == "many" {
						if m.GetHistogram().GetSampleCount() != 2 {
							t.Errorf("expected 2 samples for cardinality=many, got %d", m.GetHistogram().GetSampleCount())
						}
					}
				}
			}
		}
	}
	if !found {
		t.Error("query duration metric not found")
	}
}

func TestHandshakeDuration(t *testing.T) {
	c, reg := newTestCollector(t)

	c.HandshakeDuration(15 * time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "gelclient_handshake_duration_seconds" {
			found = true
			m := f.GetMetric()
			if len(m) > 0 && m[0].GetHistogram().GetSampleCount() != 1 {
				t.Errorf("expected 1 handshake sample, got %d", m[0].GetHistogram().GetSampleCount())
			}
		}
	}
	if !found {
		t.Error("handshake duration metric not found")
	}
}

func TestRetryAttempted(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RetryAttempted("transaction_conflict")
	c.RetryAttempted("transaction_conflict")
	c.RetryAttempted("network_error")

	if v := getCounterValue(c.retriesTotal.WithLabelValues("transaction_conflict")); v != 2 {
		t.Errorf("expected transaction_conflict retries=2, got %v", v)
	}
	if v := getCounterValue(c.retriesTotal.WithLabelValues("network_error")); v != 1 {
		t.Errorf("expected network_error retries=1, got %v", v)
	}
}

func TestTransactionCompleted(t *testing.T) {
	c, _ := newTestCollector(t)

	c.TransactionCompleted("committed")
	c.TransactionCompleted("committed")
	c.TransactionCompleted("failed")

	if v := getCounterValue(c.transactionsTotal.WithLabelValues("committed")); v != 2 {
		t.Errorf("expected committed=2, got %v", v)
	}
	if v := getCounterValue(c.transactionsTotal.WithLabelValues("failed")); v != 1 {
		t.Errorf("expected failed=1, got %v", v)
	}
}

func TestIdleSessionTimeout(t *testing.T) {
	c, _ := newTestCollector(t)

	c.IdleSessionTimeout()
	c.IdleSessionTimeout()

	if v := getCounterValue(c.idleTimeoutsTotal); v != 2 {
		t.Errorf("expected idle timeouts=2, got %v", v)
	}
}

func TestReconnected(t *testing.T) {
	c, _ := newTestCollector(t)

	c.Reconnected()

	if v := getCounterValue(c.reconnectsTotal); v != 1 {
		t.Errorf("expected reconnects=1, got %v", v)
	}
}

func TestNewDoesNotPanicOnMultipleCalls(t *testing.T) {
	// Calling New() multiple times should not panic because each creates
	// its own registry instead of using the global default.
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("New() panicked on repeated calls: %v", r)
		}
	}()

	c1 := New()
	c2 := New()

	c1.UpdatePoolStats(1, 0, 1, 0)
	c2.UpdatePoolStats(2, 0, 2, 0)

	if v := getGaugeValue(c1.connectionsActive); v != 1 {
		t.Errorf("c1 expected active=1, got %v", v)
	}
	if v := getGaugeValue(c2.connectionsActive); v != 2 {
		t.Errorf("c2 expected active=2, got %v", v)
	}
}
