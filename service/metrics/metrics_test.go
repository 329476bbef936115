package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordCycle("wallet1", "notified", 0.2)
	m.RecordCycle("wallet1", "already_seen", 0.05)
	m.RecordTransferDetected("wallet1", "token_transfer", 1.5)
	m.RecordTransferDetected("wallet1", "balance_delta", 0.5)
	m.RecordPriceLookup("solana", nil)
	m.RecordPriceLookup("solana", errors.New("boom"))

	expected := `
# HELP transfer_amount_sol_total Sum of detected incoming transfer amounts in SOL
# TYPE transfer_amount_sol_total counter
transfer_amount_sol_total{wallet_address="wallet1"} 2
# HELP price_lookups_total Total number of spot price lookups by status
# TYPE price_lookups_total counter
price_lookups_total{asset="solana",status="error"} 1
price_lookups_total{asset="solana",status="success"} 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"transfer_amount_sol_total", "price_lookups_total")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "detector_cycles_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	handler := HTTPMetricsMiddleware(m, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	expected := `
# HELP http_requests_total Total number of HTTP requests
# TYPE http_requests_total counter
http_requests_total{handler="/health",method="GET",status="5xx"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "http_requests_total"))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(200))
	assert.Equal(t, "3xx", statusCodeToString(301))
	assert.Equal(t, "4xx", statusCodeToString(404))
	assert.Equal(t, "5xx", statusCodeToString(503))
	assert.Equal(t, "unknown", statusCodeToString(0))
}
