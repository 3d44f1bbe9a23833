// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stderr + OpenTelemetry)
//   - Automatic context field injection (trace_id, session, phase, task)
//   - Defense-in-depth secret redaction
//   - Level-aware sampling (errors never sampled)
//
// Logs go to stderr, never stdout: in daemon mode stdout carries the MCP
// protocol stream and any stray write would corrupt it.
//
// # Usage
//
// Create logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx := logging.WithSessionID(ctx, "sess_123")
//	ctx = logging.WithPhaseID(ctx, "implementation")
//	logger.Info(ctx, "gate evaluated", zap.Duration("duration", d))
//
// Output includes automatic correlation:
//
//	{
//	  "ts": "2026-08-12T10:15:30Z",
//	  "level": "info",
//	  "msg": "gate evaluated",
//	  "trace_id": "abc123",
//	  "session.id": "sess_123",
//	  "phase.id": "implementation",
//	  "duration": "45ms"
//	}
//
// # Secret Redaction
//
// Secrets are redacted at the encoder: sensitive field names are blanked
// and value patterns (bearer tokens, api keys) are replaced. Use the
// helper for manual redaction:
//
//	logger.Info(ctx, "auth received",
//	    logging.RedactedString("authorization", authHeader))
//
// # Sampling
//
// Level-aware sampling prevents log floods:
//   - Trace: first 1 per second, drop rest
//   - Debug: first 10 per second, drop rest
//   - Info: first 100, then 1 every 10
//   - Warn: first 100, then 1 every 100
//   - Error+: never sampled
//
// Disable for debugging:
//
//	cfg.Sampling.Enabled = false
//
// # Testing
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
//	tl.AssertNoSecrets(t)
//
// # Concurrency Safety
//
// Logger is safe for concurrent use. Child loggers (With, Named) are
// independent and do not affect parent or siblings.
package logging
