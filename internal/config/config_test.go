package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                      "development",
		JWTSecret:                "secure-secret-at-least-32-chars-long",
		DBPassword:               "secure-password",
		DBSSLMode:                "disable",
		Port:                     "8080",
		Timezone:                 "Asia/Kolkata",
		QROrigin:                 "http://localhost:5173",
		OtpResendCooldownMinutes: 5,
		GatePassCutoff:           "16:30",
		DefaultMaxVisits:         2,
	}
}

func TestConfig_ValidateProduction(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"development defaults", func(c *Config) {}, false},
		{"production with disable SSL mode", func(c *Config) {
			c.Env = "production"
			c.QROrigin = "https://hostel.example.edu"
		}, true},
		{"production with require SSL mode", func(c *Config) {
			c.Env = "production"
			c.DBSSLMode = "require"
			c.QROrigin = "https://hostel.example.edu"
		}, false},
		{"production with http QR origin", func(c *Config) {
			c.Env = "prod"
			c.DBSSLMode = "verify-full"
		}, true},
		{"production with default secret", func(c *Config) {
			c.Env = "production"
			c.DBSSLMode = "require"
			c.QROrigin = "https://hostel.example.edu"
			c.JWTSecret = defaultJWTSecret
		}, true},
		{"production with weak db password", func(c *Config) {
			c.Env = "production"
			c.DBSSLMode = "require"
			c.QROrigin = "https://hostel.example.edu"
			c.DBPassword = "password"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateEngineSettings(t *testing.T) {
	c := validConfig()
	c.GatePassCutoff = "4:30pm"
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Timezone = "Mars/Olympus_Mons"
	assert.Error(t, c.Validate())

	c = validConfig()
	c.OtpResendCooldownMinutes = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.DefaultMaxVisits = 0
	assert.Error(t, c.Validate())

	c = validConfig()
	c.QROrigin = "not a url"
	assert.Error(t, c.Validate())
}

func TestConfig_Cutoff(t *testing.T) {
	c := validConfig()
	c.GatePassCutoff = " 17:45 "

	hour, minute, err := c.Cutoff()
	require.NoError(t, err)
	assert.Equal(t, 17, hour)
	assert.Equal(t, 45, minute)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	defer viper.Reset()
	t.Setenv("APP_ENV", "development")
	t.Setenv("DB_SSLMODE", "  DISABLE  ")
	t.Setenv("OTP_RESEND_COOLDOWN_MINUTES", "7")
	t.Setenv("APP_TIMEZONE", "UTC")
	os.Unsetenv("GATEPASS_CUTOFF")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, 7, c.OtpResendCooldownMinutes)
	assert.Equal(t, "16:30", c.GatePassCutoff)
	assert.Equal(t, 2, c.DefaultMaxVisits)

	loc, err := c.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}
