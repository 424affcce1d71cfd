package forecastclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
)

func TestGetDailySnowfall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "snowfall_sum", q.Get("daily"))
		assert.Equal(t, "inch", q.Get("precipitation_unit"))
		assert.Equal(t, "3", q.Get("forecast_days"))
		assert.Equal(t, "America/Chicago", q.Get("timezone"))
		assert.Equal(t, "41.8800", q.Get("latitude"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"daily":{"time":["2025-01-10","2025-01-11","2025-01-12"],"snowfall_sum":[0.0,9.2,null]}}`))
	}))
	defer server.Close()

	client, err := NewClient(Options{BaseURL: server.URL, Timezone: "America/Chicago"})
	require.NoError(t, err)

	days, err := client.GetDailySnowfall(context.Background(), 41.88, -87.63, 3)
	require.NoError(t, err)
	assert.Equal(t, []model.DailySnowfall{
		{Date: "2025-01-10", Inches: 0},
		{Date: "2025-01-11", Inches: 9.2},
		{Date: "2025-01-12", Inches: 0},
	}, days)
}

func TestGetDailySnowfall_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "provider error", status: http.StatusBadRequest, body: `{"error":true,"reason":"Latitude must be in range"}`},
		{name: "server error", status: http.StatusServiceUnavailable, body: `upstream down`},
		{name: "garbage", status: http.StatusOK, body: `not json`},
		{name: "length mismatch", status: http.StatusOK, body: `{"daily":{"time":["2025-01-10"],"snowfall_sum":[]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := NewClient(Options{BaseURL: server.URL})
			require.NoError(t, err)

			_, err = client.GetDailySnowfall(context.Background(), 41.88, -87.63, 3)
			assert.Error(t, err)
		})
	}
}
