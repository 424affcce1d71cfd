package smsclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Options{BaseURL: server.URL, AccountSID: "AC123", AuthToken: "secret", From: "+13125550000"})
	require.NoError(t, err)
	return client
}

func TestSendSMS(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+13125550001", r.PostForm.Get("To"))
		assert.Equal(t, "+13125550000", r.PostForm.Get("From"))
		assert.Equal(t, "Storm alert", r.PostForm.Get("Body"))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	})

	require.NoError(t, client.SendSMS(context.Background(), "+13125550001", "Storm alert"))
}

func TestSendSMS_TruncatesLongBodies(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "ascii", text: strings.Repeat("x", 2000), want: strings.Repeat("x", maxBodyLength)},
		{name: "multi-byte", text: strings.Repeat("❄", 2000), want: strings.Repeat("❄", maxBodyLength)},
		{name: "mixed at the limit", text: strings.Repeat("a", maxBodyLength-1) + "é❄", want: strings.Repeat("a", maxBodyLength-1) + "é"},
		{name: "short multi-byte untouched", text: "Snow ❄ tonight", want: "Snow ❄ tonight"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, r.ParseForm())
				got = r.PostForm.Get("Body")
				w.WriteHeader(http.StatusCreated)
			})

			require.NoError(t, client.SendSMS(context.Background(), "+13125550001", tt.text))
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, utf8.RuneCountInString(got), maxBodyLength)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendSMS_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number.","status":400}`))
	})

	err := client.SendSMS(context.Background(), "bogus", "hi")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 21211, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(Options{AccountSID: "AC123"})
	assert.Error(t, err)
}
