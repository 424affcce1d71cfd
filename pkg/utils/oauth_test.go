package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/jakechorley/snow-dispatch/internal/config"
)

func testOAuthClient() *config.OAuthClientConfig {
	return &config.OAuthClientConfig{
		Installed: config.OAuthInstalled{
			ClientID:                "client-id.apps.googleusercontent.com",
			ProjectID:               "snow-dispatch",
			AuthURI:                 "https://accounts.google.com/o/oauth2/auth",
			TokenURI:                "https://oauth2.googleapis.com/token",
			AuthProviderX509CertURL: "https://www.googleapis.com/oauth2/v1/certs",
			ClientSecret:            "secret",
			RedirectURIs:            []string{"http://localhost"},
		},
	}
}

func TestGetOAuthConfig(t *testing.T) {
	cfg, err := GetOAuthConfig(testOAuthClient())
	require.NoError(t, err)
	assert.Equal(t, []string{ScopeGmailSend}, cfg.Scopes)
	assert.Equal(t, "http://localhost:3000/oauth/callback", cfg.RedirectURL)
	assert.Equal(t, "client-id.apps.googleusercontent.com", cfg.ClientID)
}

func TestTokenFileRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	token, err := LoadTokenFromFile("test")
	require.NoError(t, err)
	assert.Nil(t, token)

	stored := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, SaveTokenToFile("test", stored))

	cfg, err := GetOAuthConfig(testOAuthClient())
	require.NoError(t, err)
	loaded, err := LoadToken(context.Background(), cfg, "test", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "access", loaded.AccessToken)

	require.NoError(t, DeleteTokenFile("test"))
	_, err = LoadToken(context.Background(), cfg, "test", zap.NewNop())
	assert.ErrorIs(t, err, ErrNoToken)
}
