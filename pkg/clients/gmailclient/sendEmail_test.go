package gmailclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func TestBuildMessage(t *testing.T) {
	msg := buildMessage("dispatch@example.com", "pat@example.com", "Job update", "Your plower is on the way.")

	assert.Contains(t, msg, "From: dispatch@example.com\r\n")
	assert.Contains(t, msg, "To: pat@example.com\r\n")
	assert.Contains(t, msg, "Subject: Job update\r\n")
	assert.Contains(t, msg, "\r\n\r\nYour plower is on the way.")
}

func TestSendEmail(t *testing.T) {
	var got gmail.Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/users/me/messages/send")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer server.Close()

	ctx := context.Background()
	service, err := gmail.NewService(ctx, option.WithEndpoint(server.URL+"/"), option.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	client := NewClientWithService(ctx, service, "dispatch@example.com")
	require.NoError(t, client.SendEmail("pat@example.com", "Job update", "Done."))

	raw, err := base64.URLEncoding.DecodeString(got.Raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "To: pat@example.com")
	assert.Contains(t, string(raw), "Done.")
}

func TestSendEmail_RejectsHeaderInjection(t *testing.T) {
	client := NewClientWithService(context.Background(), nil, "")
	err := client.SendEmail("pat@example.com\r\nBcc: everyone@example.com", "Hi", "Body")
	assert.Error(t, err)
}
