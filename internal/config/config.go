package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/teambition/rrule-go"
	"gopkg.in/yaml.v3"

	"github.com/jakechorley/snow-dispatch/pkg/core/surge"
)

// RegionConfig is the service area the forecast is checked for
type RegionConfig struct {
	Latitude     float64 `yaml:"latitude" validate:"latitude"`
	Longitude    float64 `yaml:"longitude" validate:"longitude"`
	Timezone     string  `yaml:"timezone" validate:"required"`
	ForecastDays int     `yaml:"forecastDays,omitempty" validate:"omitempty,min=1,max=16"`
}

// SurgeStep is one row of the snowfall -> multiplier table
type SurgeStep struct {
	BelowInches float64 `yaml:"belowInches" validate:"gt=0"`
	Multiplier  float64 `yaml:"multiplier" validate:"gte=1"`
}

// SurgeConfig overrides the default surge table. Omitted values keep their defaults.
type SurgeConfig struct {
	MinInches float64     `yaml:"minInches,omitempty" validate:"omitempty,gt=0"`
	Steps     []SurgeStep `yaml:"steps,omitempty" validate:"dive"`
	Ceiling   float64     `yaml:"ceiling,omitempty" validate:"omitempty,gte=1"`
}

// DispatchConfig controls who is notified about new jobs
type DispatchConfig struct {
	PresenceTTL time.Duration `yaml:"presenceTTL,omitempty" validate:"gte=0"`
	RadiusMiles float64       `yaml:"radiusMiles,omitempty" validate:"gte=0"`
}

// PromotionConfig controls backup promotion
type PromotionConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"required,gt=0"`
	Bonus   float64       `yaml:"bonus,omitempty" validate:"gte=0"`
}

// NotificationConfig holds the non-secret provider settings. A provider whose
// settings are empty is left unconfigured and its channel is skipped.
type NotificationConfig struct {
	TwilioAccountSID string `yaml:"twilioAccountSID,omitempty"`
	TwilioFrom       string `yaml:"twilioFrom,omitempty" validate:"omitempty,e164"`
	PushExchange     string `yaml:"pushExchange,omitempty"`
	GmailSender      string `yaml:"gmailSender,omitempty" validate:"omitempty,email"`
}

// Secrets are read from the environment, never from the config file
type Secrets struct {
	DatabaseURL     string
	JWTSecret       string
	TwilioAuthToken string
	RabbitMQURL     string
	CronSecret      string
}

// Config represents the application configuration
type Config struct {
	ServerAddr         string             `yaml:"serverAddr,omitempty"`
	PublicBaseURL      string             `yaml:"publicBaseURL,omitempty" validate:"omitempty,url"`
	CORSAllowedOrigins []string           `yaml:"corsAllowedOrigins,omitempty"`
	Region             RegionConfig       `yaml:"region" validate:"required"`
	Surge              SurgeConfig        `yaml:"surge,omitempty"`
	Dispatch           DispatchConfig     `yaml:"dispatch,omitempty"`
	Promotion          PromotionConfig    `yaml:"promotion" validate:"required"`
	ScheduleRRule      string             `yaml:"scheduleRRule,omitempty"`
	Notifications      NotificationConfig `yaml:"notifications,omitempty"`

	Secrets Secrets `yaml:"-"`
}

// Defaults applied when the config file leaves a value unset
const (
	DefaultServerAddr    = ":8080"
	DefaultScheduleRRule = "FREQ=HOURLY"
	DefaultPresenceTTL   = 10 * time.Minute
	DefaultForecastDays  = 3
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Load loads and validates snow_dispatch_config.yaml (or snow_dispatch_config.<env>.yaml)
// from the current directory or the user's home directory, then reads secrets from
// the environment and any .env file.
func Load(env string) (*Config, error) {
	configPath, err := findConfigFile(env)
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		return nil, err
	}

	cfg.Secrets = LoadSecrets()
	return cfg, nil
}

// LoadFromPath loads and validates the configuration from a specific path
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = DefaultServerAddr
	}
	if cfg.ScheduleRRule == "" {
		cfg.ScheduleRRule = DefaultScheduleRRule
	}
	if cfg.Dispatch.PresenceTTL == 0 {
		cfg.Dispatch.PresenceTTL = DefaultPresenceTTL
	}
	if cfg.Region.ForecastDays == 0 {
		cfg.Region.ForecastDays = DefaultForecastDays
	}
}

// Validate validates the configuration struct, the surge table, the schedule rrule
// and the region timezone
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := cfg.SurgePolicy().Validate(); err != nil {
		return fmt.Errorf("invalid surge table: %w", err)
	}

	if _, err := rrule.StrToRRule(cfg.ScheduleRRule); err != nil {
		return fmt.Errorf("invalid scheduleRRule: %w", err)
	}

	if _, err := time.LoadLocation(cfg.Region.Timezone); err != nil {
		return fmt.Errorf("invalid region timezone %q: %w", cfg.Region.Timezone, err)
	}

	return nil
}

// SurgePolicy merges the configured surge table over the default one
func (c *Config) SurgePolicy() surge.Policy {
	policy := surge.DefaultPolicy()
	if c.Surge.MinInches > 0 {
		policy.MinInches = c.Surge.MinInches
	}
	if len(c.Surge.Steps) > 0 {
		policy.Steps = make([]surge.Step, len(c.Surge.Steps))
		for i, s := range c.Surge.Steps {
			policy.Steps[i] = surge.Step{BelowInches: s.BelowInches, Multiplier: s.Multiplier}
		}
	}
	if c.Surge.Ceiling > 0 {
		policy.Ceiling = c.Surge.Ceiling
	}
	return policy
}

// Location returns the region's timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Region.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadSecrets reads secrets from the environment. A .env file in the working
// directory is loaded first if present; variables already set take precedence.
func LoadSecrets() Secrets {
	_ = godotenv.Load()

	return Secrets{
		DatabaseURL:     getenv("DATABASE_URL"),
		JWTSecret:       getenv("JWT_SECRET"),
		TwilioAuthToken: getenv("TWILIO_AUTH_TOKEN"),
		RabbitMQURL:     getenv("RABBITMQ_URL"),
		CronSecret:      getenv("CRON_SECRET"),
	}
}

// RequireSecrets returns an error naming every listed secret that is unset
func (s Secrets) RequireSecrets(names ...string) error {
	values := map[string]string{
		"DATABASE_URL":      s.DatabaseURL,
		"JWT_SECRET":        s.JWTSecret,
		"TWILIO_AUTH_TOKEN": s.TwilioAuthToken,
		"RABBITMQ_URL":      s.RabbitMQURL,
		"CRON_SECRET":       s.CronSecret,
	}
	var missing []string
	for _, name := range names {
		if values[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// findConfigFile searches for the config file in the current directory and home directory
func findConfigFile(env string) (string, error) {
	configFileName := "snow_dispatch_config.yaml"
	if env != "" {
		configFileName = "snow_dispatch_config." + env + ".yaml"
	}

	if _, err := os.Stat(configFileName); err == nil {
		return configFileName, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	homeConfigPath := filepath.Join(homeDir, configFileName)
	if _, err := os.Stat(homeConfigPath); err == nil {
		return homeConfigPath, nil
	}

	return "", errors.New("config file " + configFileName + " not found in current directory or home directory")
}
