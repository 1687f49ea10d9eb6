package observability

import (
	"testing"
	"time"

	"github.com/danmuck/apdurelay/internal/relay"
	"github.com/danmuck/apdurelay/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("relay-a", "GET", "/health", 200, 3*time.Millisecond)

	m := NewRelayMetrics("relay-a")
	m.Transition(relay.StateInit, relay.StateReceiving)
	m.Exchange(5, 7, 2*time.Millisecond)
	m.Failure(relay.CauseRead)
	m.Failure(relay.CauseRead)

	if got := testutil.ToFloat64(relayFailures.WithLabelValues("relay-a", "read")); got != 2 {
		t.Fatalf("expected 2 read failures, got %v", got)
	}
	if got := testutil.ToFloat64(relayTransitions.WithLabelValues("relay-a", "init", "receiving")); got != 1 {
		t.Fatalf("expected 1 init->receiving transition, got %v", got)
	}
}
