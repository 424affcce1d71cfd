package forecastclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jakechorley/snow-dispatch/pkg/core/model"
)

// DefaultBaseURL is the Open-Meteo forecast API
const DefaultBaseURL = "https://api.open-meteo.com"

// Options configures the forecast client
type Options struct {
	BaseURL  string
	Timezone string // IANA name, days are reported in this zone
	Timeout  time.Duration
}

// Client fetches daily snowfall totals from Open-Meteo
type Client struct {
	baseURL  string
	timezone string
	client   *http.Client
}

// NewClient creates a forecast client
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid forecast base url: %w", err)
	}
	tz := opts.Timezone
	if tz == "" {
		tz = "UTC"
	}
	to := opts.Timeout
	if to <= 0 {
		to = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(base, "/"),
		timezone: tz,
		client:   &http.Client{Timeout: to},
	}, nil
}

type dailyResponse struct {
	Daily struct {
		Time        []string   `json:"time"`
		SnowfallSum []*float64 `json:"snowfall_sum"`
	} `json:"daily"`
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// GetDailySnowfall returns the forecast snowfall in inches for today and the following days
func (c *Client) GetDailySnowfall(ctx context.Context, lat, lon float64, days int) ([]model.DailySnowfall, error) {
	if days <= 0 {
		days = 3
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("daily", "snowfall_sum")
	q.Set("precipitation_unit", "inch")
	q.Set("forecast_days", strconv.Itoa(days))
	q.Set("timezone", c.timezone)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/forecast?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create forecast request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forecast request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read forecast response: %w", err)
	}

	var payload dailyResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("forecast request failed with status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to parse forecast response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || payload.Error {
		return nil, fmt.Errorf("forecast request failed with status %d: %s", resp.StatusCode, payload.Reason)
	}
	if len(payload.Daily.Time) != len(payload.Daily.SnowfallSum) {
		return nil, fmt.Errorf("forecast response has %d days but %d snowfall values",
			len(payload.Daily.Time), len(payload.Daily.SnowfallSum))
	}

	result := make([]model.DailySnowfall, 0, len(payload.Daily.Time))
	for i, day := range payload.Daily.Time {
		inches := 0.0
		if v := payload.Daily.SnowfallSum[i]; v != nil {
			inches = *v
		}
		result = append(result, model.DailySnowfall{Date: day, Inches: inches})
	}
	return result, nil
}
