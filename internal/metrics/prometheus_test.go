package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// Collectors register against the default registry, so one instance serves
// every test in this package.
var m = NewMetrics("aip_unit")

func TestMiddlewareRecordsRequests(t *testing.T) {
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/aip/ping", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("middleware changed status to %d", rec.Code)
	}
}

func TestRecorders(t *testing.T) {
	// These must not panic on label cardinality
	m.RecordAuction("settled", 50*time.Millisecond, 2, 1.75)
	m.RecordAuction("no_bid", 50*time.Millisecond, 0, 0)
	m.RecordGuardRejection("nonce")
	m.RecordEvent("cpc_click", "accepted")
	m.RecordRecommendation("in_progress")
	m.RecordPublishFailure("travel")
}

func TestMetricsEndpointServes(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
