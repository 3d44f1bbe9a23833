package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	appconfig "github.com/fyrsmithlabs/sessiond/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Output.Stderr)
	assert.False(t, cfg.Output.OTEL)
	assert.True(t, cfg.Sampling.Enabled)
	assert.Equal(t, time.Second, cfg.Sampling.Tick.Duration())
	assert.Equal(t, "sessiond", cfg.Fields["service"])
	assert.True(t, cfg.Redaction.Enabled)
	assert.Contains(t, cfg.Redaction.Fields, "api_key")

	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid format",
			modify:  func(c *Config) { c.Format = "xml" },
			wantErr: "format must be",
		},
		{
			name: "no outputs",
			modify: func(c *Config) {
				c.Output.Stderr = false
				c.Output.OTEL = false
			},
			wantErr: "at least one output",
		},
		{
			name: "zero sampling tick",
			modify: func(c *Config) {
				c.Sampling.Enabled = true
				c.Sampling.Tick = 0
			},
			wantErr: "sampling tick",
		},
		{
			name:    "negative caller skip",
			modify:  func(c *Config) { c.Caller.Skip = -1 },
			wantErr: "caller skip",
		},
		{
			name:    "invalid redaction pattern",
			modify:  func(c *Config) { c.Redaction.Patterns = []string{"[unclosed"} },
			wantErr: "invalid redaction pattern",
		},
		{
			name:    "empty field value",
			modify:  func(c *Config) { c.Fields = map[string]string{"service": ""} },
			wantErr: "empty value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	app := appconfig.LoggingConfig{
		Level:     "debug",
		Format:    "console",
		Outputs:   appconfig.OutputsConfig{Stderr: true, OTEL: true},
		Redaction: appconfig.RedactionConfig{Enabled: false},
	}

	cfg, err := FromConfig(app)
	require.NoError(t, err)

	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.True(t, cfg.Output.Stderr)
	assert.True(t, cfg.Output.OTEL)
	assert.False(t, cfg.Redaction.Enabled)
	// Defaults survive for sections the app config does not cover.
	assert.True(t, cfg.Sampling.Enabled)
}

func TestFromConfig_TraceLevel(t *testing.T) {
	cfg, err := FromConfig(appconfig.LoggingConfig{
		Level:   "trace",
		Format:  "json",
		Outputs: appconfig.OutputsConfig{Stderr: true},
	})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
}

func TestFromConfig_InvalidLevel(t *testing.T) {
	_, err := FromConfig(appconfig.LoggingConfig{
		Level:   "loud",
		Format:  "json",
		Outputs: appconfig.OutputsConfig{Stderr: true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid logging level")
}
