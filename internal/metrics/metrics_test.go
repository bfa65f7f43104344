package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Transition("completed")
	m.Transition("completed")
	m.SlotConflict()
	m.Payment("succeeded", 5000)
	m.Payment("failed", 5000)
	m.Rounding(4)

	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("completed")); got != 2 {
		t.Fatalf("transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SlotConflicts); got != 1 {
		t.Fatalf("conflicts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Disbursed); got != 5000 {
		t.Fatalf("disbursed = %v, want 5000", got)
	}
	if got := testutil.ToFloat64(m.RoundingLoss); got != 4 {
		t.Fatalf("rounding = %v, want 4", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Transition("completed")
	m.Payment("succeeded", 1)
	m.Notification(false)
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.CapacityRejected()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "docket_panel_capacity_rejections_total 1") {
		t.Fatalf("metric missing from output:\n%s", body)
	}
}
