package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"trace", TraceLevel},
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := LevelFromString(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, level)
		})
	}
}

func TestLevelFromString_Invalid(t *testing.T) {
	_, err := LevelFromString("shout")
	assert.Error(t, err)
}

func TestTraceLevel_BelowDebug(t *testing.T) {
	assert.Less(t, TraceLevel, zapcore.DebugLevel)
}
