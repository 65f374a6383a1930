// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	Port           string `mapstructure:"PORT"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         string `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	DBSSLMode      string `mapstructure:"DB_SSLMODE"`
	DBMaxOpenConns int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBSchemaMode   string `mapstructure:"DB_SCHEMA_MODE"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`
	Env            string `mapstructure:"APP_ENV"`
	SeedDemoData   bool   `mapstructure:"SEED_DEMO_DATA"`

	// Request engine
	Timezone                 string `mapstructure:"APP_TIMEZONE"`
	QROrigin                 string `mapstructure:"QR_ORIGIN"`
	OtpResendCooldownMinutes int    `mapstructure:"OTP_RESEND_COOLDOWN_MINUTES"`
	GatePassCutoff           string `mapstructure:"GATEPASS_CUTOFF"`
	DefaultMaxVisits         int    `mapstructure:"DEFAULT_MAX_VISITS"`
	IncomingQrGraceMinutes   int    `mapstructure:"INCOMING_QR_GRACE_MINUTES"`

	// SMS gateway used for parent OTP delivery. Empty URL logs instead of sending.
	SMSGatewayURL   string `mapstructure:"SMS_GATEWAY_URL"`
	SMSGatewayToken string `mapstructure:"SMS_GATEWAY_TOKEN"`
	SMSSenderID     string `mapstructure:"SMS_SENDER_ID"`

	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED"`
	TracingExporter string `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string `mapstructure:"OTLP_ENDPOINT"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional; env vars and defaults cover everything.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "hostelgate")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_SCHEMA_MODE", "hybrid")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("FEATURE_FLAGS", "")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("SEED_DEMO_DATA", false)

	viper.SetDefault("APP_TIMEZONE", "Asia/Kolkata")
	viper.SetDefault("QR_ORIGIN", "http://localhost:5173")
	viper.SetDefault("OTP_RESEND_COOLDOWN_MINUTES", 5)
	viper.SetDefault("GATEPASS_CUTOFF", "16:30")
	viper.SetDefault("DEFAULT_MAX_VISITS", 2)
	viper.SetDefault("INCOMING_QR_GRACE_MINUTES", 0)

	viper.SetDefault("SMS_GATEWAY_URL", "")
	viper.SetDefault("SMS_GATEWAY_TOKEN", "")
	viper.SetDefault("SMS_SENDER_ID", "HSTLGT")

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
}

// IsProduction reports whether the config targets a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Location resolves APP_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Cutoff parses GATEPASS_CUTOFF ("HH:MM").
func (c *Config) Cutoff() (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.GatePassCutoff))
	if err != nil {
		return 0, 0, fmt.Errorf("GATEPASS_CUTOFF %q must be HH:MM: %w", c.GatePassCutoff, err)
	}
	return t.Hour(), t.Minute(), nil
}

// OtpResendCooldown is the minimum time between OTP generation and a resend.
func (c *Config) OtpResendCooldown() time.Duration {
	return time.Duration(c.OtpResendCooldownMinutes) * time.Minute
}

// IncomingQrGrace extends the incoming window past the outgoing window end.
func (c *Config) IncomingQrGrace() time.Duration {
	return time.Duration(c.IncomingQrGraceMinutes) * time.Minute
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.OtpResendCooldownMinutes <= 0 {
		return errors.New("OTP_RESEND_COOLDOWN_MINUTES must be positive")
	}
	if c.DefaultMaxVisits <= 0 {
		return errors.New("DEFAULT_MAX_VISITS must be positive")
	}
	if c.IncomingQrGraceMinutes < 0 {
		return errors.New("INCOMING_QR_GRACE_MINUTES cannot be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, _, err := c.Cutoff(); err != nil {
		return err
	}
	origin, err := url.Parse(c.QROrigin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return fmt.Errorf("QR_ORIGIN %q must be an absolute URL", c.QROrigin)
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable TLS in production")
		}
		if origin.Scheme != "https" {
			return errors.New("QR_ORIGIN must use https in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
