package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector()
	c.AccrualsGenerated(3, 1)
	c.AccrualsGenerated(2, 0)
	c.PaymentRegistered(150.5)
	c.Allocated("auto", 2)
	c.Allocated("manual", 1)
	c.Adjusted("BONUS")
	c.OperationFailed("allocate_manual", "over_allocation")

	if got := testutil.ToFloat64(c.accrualsGenerated); got != 5 {
		t.Errorf("expected 5 generated, got %v", got)
	}
	if got := testutil.ToFloat64(c.accrualsDuplicate); got != 1 {
		t.Errorf("expected 1 duplicate, got %v", got)
	}
	if got := testutil.ToFloat64(c.paymentAmount); got != 150.5 {
		t.Errorf("expected amount 150.5, got %v", got)
	}
	if got := testutil.ToFloat64(c.allocations.WithLabelValues("auto")); got != 2 {
		t.Errorf("expected 2 auto allocations, got %v", got)
	}
	if got := testutil.ToFloat64(c.operationErrors.WithLabelValues("allocate_manual", "over_allocation")); got != 1 {
		t.Errorf("expected 1 operation error, got %v", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.ObserveHTTP("GET", "/api/customers", 200, 15*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `subscription_ledger_http_requests_total{method="GET",route="/api/customers",status="200"} 1`) {
		t.Errorf("expected request counter in exposition, got:\n%s", body)
	}
	if !strings.Contains(body, "subscription_ledger_http_request_duration_seconds_count") {
		t.Errorf("expected duration histogram in exposition")
	}
}

func TestNewCollector_Independent(t *testing.T) {
	// Two collectors must not collide on registration.
	a, b := NewCollector(), NewCollector()
	a.Deallocated()
	if got := testutil.ToFloat64(b.deallocations); got != 0 {
		t.Errorf("expected independent registries, got %v", got)
	}
}
