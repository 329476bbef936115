package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		lastCycle  time.Time
		started    time.Time
		wantStatus int
		wantBody   string
	}{
		{
			name:       "starting up",
			started:    now,
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name:       "recent cycle",
			lastCycle:  now.Add(-5 * time.Second),
			started:    now.Add(-time.Hour),
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name:       "stalled loop",
			lastCycle:  now.Add(-10 * time.Minute),
			started:    now.Add(-time.Hour),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "stalled",
		},
		{
			name:       "never cycled",
			started:    now.Add(-10 * time.Minute),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "stalled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := healthHandler(func() time.Time { return tt.lastCycle }, tt.started, time.Minute)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["status"])
			_, hasLast := body["last_cycle"]
			assert.Equal(t, !tt.lastCycle.IsZero(), hasLast)
		})
	}
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "mainnet.helius-rpc.com", endpointLabel("https://mainnet.helius-rpc.com/?api-key=secret"))
	assert.Equal(t, "example.quiknode.pro", endpointLabel("https://example.quiknode.pro/secret-key/"))
	assert.Equal(t, "unknown", endpointLabel("not a url"))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
	assert.Nil(t, splitList(""))
}
