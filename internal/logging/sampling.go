package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore applies level-aware sampling: warn and below go through a
// zap sampler, error and above bypass it entirely so failures are never
// dropped under load.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	errors := &levelFilterCore{Core: core, minLevel: zapcore.ErrorLevel}
	routine := &levelFilterCore{Core: core, maxLevel: zapcore.WarnLevel}

	// Info-level settings drive the sampler for the whole sub-error band.
	band := cfg.Levels[zapcore.InfoLevel]
	sampled := zapcore.NewSamplerWithOptions(
		routine,
		cfg.Tick.Duration(),
		band.Initial,
		band.Thereafter,
	)

	return zapcore.NewTee(errors, sampled)
}

// levelFilterCore restricts a core to a level range. A zero bound means
// that side is open.
type levelFilterCore struct {
	zapcore.Core
	minLevel zapcore.Level
	maxLevel zapcore.Level
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	if c.minLevel != 0 && lvl < c.minLevel {
		return false
	}
	if c.maxLevel != 0 && lvl > c.maxLevel {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{
		Core:     c.Core.With(fields),
		minLevel: c.minLevel,
		maxLevel: c.maxLevel,
	}
}
