package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.OperationsTotal.WithLabelValues("burn", "", "completed"))
	RecordOperation("burn", "", "completed", 1.5)
	if got := testutil.ToFloat64(DefaultMetrics.OperationsTotal.WithLabelValues("burn", "", "completed")); got != before+1 {
		t.Errorf("operations_total = %v, want %v", got, before+1)
	}

	RecordPrice("m-metrics", 0.00000055, 900000, 1700000000)
	if got := testutil.ToFloat64(DefaultMetrics.QuotedPrice.WithLabelValues("m-metrics")); got != 0.00000055 {
		t.Errorf("quoted_price = %v", got)
	}
	if got := testutil.ToFloat64(DefaultMetrics.LastSuccessfulUpdate); got != 1700000000 {
		t.Errorf("last_successful_update = %v", got)
	}

	errBefore := testutil.ToFloat64(DefaultMetrics.LedgerCallErrors.WithLabelValues("submit"))
	RecordLedgerCall("submit", 0.2, nil)
	RecordLedgerCall("submit", 0.2, errors.New("boom"))
	if got := testutil.ToFloat64(DefaultMetrics.LedgerCallErrors.WithLabelValues("submit")); got != errBefore+1 {
		t.Errorf("call_errors_total = %v, want %v", got, errBefore+1)
	}

	SetStreamSubscribers(3)
	if got := testutil.ToFloat64(DefaultMetrics.StreamSubscribers); got != 3 {
		t.Errorf("stream_subscribers = %v", got)
	}
	SetStreamSubscribers(0)
}

func TestHandler(t *testing.T) {
	RecordPriceConflict()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "model_token_engine_supply_price_conflicts_total") {
		t.Error("price conflict counter missing from exposition")
	}
}
