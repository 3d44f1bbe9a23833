package logging

import (
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug (-1) for wire-level detail: per-tool MCP
// payloads, check-by-check gate traces. Filtered out everywhere but deep
// debugging sessions.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, accepting "trace" on top of the
// standard zap names.
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
