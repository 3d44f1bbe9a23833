package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appconfig "github.com/fyrsmithlabs/sessiond/internal/config"
)

func newSamplingTestConfig() SamplingConfig {
	return SamplingConfig{
		Enabled: true,
		Tick:    appconfig.Duration(time.Minute),
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.InfoLevel: {Initial: 3, Thereafter: 0},
		},
	}
}

func TestSampledCore_DropsAfterInitial(t *testing.T) {
	inner, observed := observer.New(TraceLevel)
	core := newSampledCore(inner, newSamplingTestConfig())
	logger := zap.New(core)

	for i := 0; i < 10; i++ {
		logger.Info("flood")
	}

	// Initial 3 pass, thereafter 0 means the rest are dropped.
	assert.Equal(t, 3, observed.FilterMessage("flood").Len())
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	inner, observed := observer.New(TraceLevel)
	core := newSampledCore(inner, newSamplingTestConfig())
	logger := zap.New(core)

	for i := 0; i < 10; i++ {
		logger.Error("boom")
	}

	assert.Equal(t, 10, observed.FilterMessage("boom").Len())
}

func TestSampledCore_DisabledPassesEverything(t *testing.T) {
	inner, observed := observer.New(TraceLevel)
	core := newSampledCore(inner, SamplingConfig{Enabled: false})
	logger := zap.New(core)

	for i := 0; i < 10; i++ {
		logger.Info("flood")
	}

	assert.Equal(t, 10, observed.FilterMessage("flood").Len())
}

func TestLevelFilterCore_With(t *testing.T) {
	inner, observed := observer.New(TraceLevel)
	filtered := &levelFilterCore{Core: inner, minLevel: zapcore.ErrorLevel}

	child := filtered.With([]zapcore.Field{zap.String("k", "v")})
	logger := zap.New(child)

	logger.Info("filtered out")
	logger.Error("passes")

	assert.Equal(t, 0, observed.FilterMessage("filtered out").Len())
	assert.Equal(t, 1, observed.FilterMessage("passes").Len())
}
