package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		ServerAddr:    ":8080",
		Region:        RegionConfig{Latitude: 41.88, Longitude: -87.63, Timezone: "America/Chicago", ForecastDays: 3},
		Promotion:     PromotionConfig{Timeout: 30 * time.Minute, Bonus: 15},
		ScheduleRRule: "FREQ=HOURLY",
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Surge = SurgeConfig{
		MinInches: 3,
		Steps: []SurgeStep{
			{BelowInches: 6, Multiplier: 1.25},
			{BelowInches: 12, Multiplier: 2},
		},
		Ceiling: 2.5,
	}
	cfg.Notifications = NotificationConfig{TwilioAccountSID: "AC123", TwilioFrom: "+13125550000", GmailSender: "dispatch@example.com"}

	assert.NoError(t, Validate(cfg))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "missing promotion timeout", mutate: func(c *Config) { c.Promotion.Timeout = 0 }, wantErr: "validation failed"},
		{name: "missing timezone", mutate: func(c *Config) { c.Region.Timezone = "" }, wantErr: "validation failed"},
		{name: "bad latitude", mutate: func(c *Config) { c.Region.Latitude = 123 }, wantErr: "validation failed"},
		{name: "unknown timezone", mutate: func(c *Config) { c.Region.Timezone = "Mars/Olympus_Mons" }, wantErr: "invalid region timezone"},
		{name: "invalid rrule", mutate: func(c *Config) { c.ScheduleRRule = "INVALID_RRULE_SYNTAX" }, wantErr: "invalid scheduleRRule"},
		{name: "bad sender number", mutate: func(c *Config) { c.Notifications.TwilioFrom = "555-0000" }, wantErr: "validation failed"},
		{
			name: "decreasing surge table",
			mutate: func(c *Config) {
				c.Surge.Steps = []SurgeStep{{BelowInches: 8, Multiplier: 2}, {BelowInches: 10, Multiplier: 1.5}}
			},
			wantErr: "invalid surge table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSurgePolicy_MergesOverDefaults(t *testing.T) {
	cfg := validConfig()
	policy := cfg.SurgePolicy()
	assert.Equal(t, 4.0, policy.MinInches)
	assert.Equal(t, 1.5, policy.Multiplier(5))
	assert.Equal(t, 2.0, policy.Multiplier(15))

	cfg.Surge.Ceiling = 3
	assert.Equal(t, 3.0, cfg.SurgePolicy().Multiplier(15))
}

func TestLoadFromPath_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "snow_dispatch_config.yaml")

	content := `
publicBaseURL: "https://snow.example.com"
corsAllowedOrigins:
  - "https://snow.example.com"
region:
  latitude: 41.88
  longitude: -87.63
  timezone: "America/Chicago"
surge:
  minInches: 4
  steps:
    - belowInches: 8
      multiplier: 1.5
    - belowInches: 12
      multiplier: 2
  ceiling: 2.5
dispatch:
  presenceTTL: 15m
  radiusMiles: 12.5
promotion:
  timeout: 45m
  bonus: 20
notifications:
  twilioAccountSID: "AC123"
  twilioFrom: "+13125550000"
  pushExchange: "push_notifications"
`

	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)

	// Explicit values
	assert.Equal(t, "https://snow.example.com", cfg.PublicBaseURL)
	assert.Equal(t, []string{"https://snow.example.com"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "America/Chicago", cfg.Region.Timezone)
	assert.Equal(t, 15*time.Minute, cfg.Dispatch.PresenceTTL)
	assert.Equal(t, 12.5, cfg.Dispatch.RadiusMiles)
	assert.Equal(t, 45*time.Minute, cfg.Promotion.Timeout)
	assert.Equal(t, 20.0, cfg.Promotion.Bonus)
	require.Len(t, cfg.Surge.Steps, 2)
	assert.Equal(t, 2.5, cfg.SurgePolicy().Multiplier(20))

	// Defaults
	assert.Equal(t, DefaultServerAddr, cfg.ServerAddr)
	assert.Equal(t, DefaultScheduleRRule, cfg.ScheduleRRule)
	assert.Equal(t, DefaultForecastDays, cfg.Region.ForecastDays)
	assert.Equal(t, "America/Chicago", cfg.Location().String())
}

func TestLoadFromPath_MinimalConfigGetsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "snow_dispatch_config.yaml")

	content := `
region:
  latitude: 44.98
  longitude: -93.27
  timezone: "America/Chicago"
promotion:
  timeout: 30m
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := LoadFromPath(configPath)
	require.NoError(t, err)
	assert.Equal(t, DefaultPresenceTTL, cfg.Dispatch.PresenceTTL)
	assert.Zero(t, cfg.Dispatch.RadiusMiles)
	assert.Equal(t, 4.0, cfg.SurgePolicy().MinInches)
}

func TestLoadFromPath_MissingPromotion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "snow_dispatch_config.yaml")

	content := `
region:
  latitude: 44.98
  longitude: -93.27
  timezone: "America/Chicago"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	_, err := LoadFromPath(configPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoadFromPath_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "snow_dispatch_config.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("region: [unclosed"), 0644))

	_, err := LoadFromPath(configPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadFromPath_FileNotFound(t *testing.T) {
	_, err := LoadFromPath("/nonexistent/snow_dispatch_config.yaml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/snow")
	t.Setenv("JWT_SECRET", " secret ")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("CRON_SECRET", "")

	secrets := LoadSecrets()
	assert.Equal(t, "postgres://localhost/snow", secrets.DatabaseURL)
	assert.Equal(t, "secret", secrets.JWTSecret)

	assert.NoError(t, secrets.RequireSecrets("DATABASE_URL", "JWT_SECRET"))
	err := secrets.RequireSecrets("DATABASE_URL", "RABBITMQ_URL", "CRON_SECRET")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RABBITMQ_URL, CRON_SECRET")
}
