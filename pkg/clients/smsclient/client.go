package smsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultBaseURL is the Twilio REST API
const DefaultBaseURL = "https://api.twilio.com"

// maxBodyLength is the provider's body limit in characters
const maxBodyLength = 1600

// Options configures the SMS client
type Options struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string // E.164 sender number
	Timeout    time.Duration
}

// Client sends text messages through Twilio's Messages API
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

// APIError is an error response from Twilio
type APIError struct {
	Status  int    `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio error %d (status %d): %s", e.Code, e.Status, e.Message)
}

// NewClient creates an SMS client
func NewClient(opts Options) (*Client, error) {
	if opts.AccountSID == "" || opts.AuthToken == "" || opts.From == "" {
		return nil, fmt.Errorf("account sid, auth token and from number are required")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	to := opts.Timeout
	if to <= 0 {
		to = 10 * time.Second
	}
	return &Client{
		baseURL:    base,
		accountSID: opts.AccountSID,
		authToken:  opts.AuthToken,
		from:       opts.From,
		client:     &http.Client{Timeout: to},
	}, nil
}

// SendSMS sends text to phone. Text longer than the provider limit is truncated
// on a character boundary.
func (c *Client) SendSMS(ctx context.Context, phone, text string) error {
	text = truncate(text, maxBodyLength)

	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", c.from)
	form.Set("Body", text)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create sms request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}
