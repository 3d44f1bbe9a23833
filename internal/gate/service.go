package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiond/internal/condition"
	"github.com/fyrsmithlabs/sessiond/internal/events"
	"github.com/fyrsmithlabs/sessiond/internal/evidence"
	"github.com/fyrsmithlabs/sessiond/internal/runner"
	"github.com/fyrsmithlabs/sessiond/internal/session"
)

const instrumentationName = "github.com/fyrsmithlabs/sessiond/internal/gate"

// SessionStore is the session-store surface the evaluator reads and the
// per-phase result history it appends to.
type SessionStore interface {
	MemoryNames(ctx context.Context, sessionID string) ([]string, error)
	ListMemories(ctx context.Context, sessionID string) ([]session.LinkedMemory, error)
	GetChain(ctx context.Context, sessionID, chainID string) (*evidence.Chain, error)
	ListChains(ctx context.Context, sessionID string) ([]*evidence.Chain, error)
	AppendGateResult(ctx context.Context, sessionID, phaseID string, result any) error
	LatestGateResult(ctx context.Context, sessionID, phaseID string) (json.RawMessage, error)
}

// Config configures the gate service.
type Config struct {
	// TypecheckCommand runs for the typecheck leaf (default: npm run typecheck).
	TypecheckCommand string
	// TypecheckTimeout bounds the typecheck command (default: 60s).
	TypecheckTimeout time.Duration
	// TestsCommand runs for the tests leaf (default: npm test).
	TestsCommand string
	// TestsTimeout bounds the test command (default: 120s).
	TestsTimeout time.Duration
	// EnforceCooldown throttles repeat evaluations per phase; within the
	// window the previous result is replayed from history. Zero disables.
	EnforceCooldown time.Duration
	// CacheTTL enables cross-evaluation reuse of command-check results.
	// Zero disables the cache; evaluation-scoped memoization is always on.
	CacheTTL time.Duration
	// CacheMaxEntries caps the check cache (default: 64).
	CacheMaxEntries int
	// Bus, when set, drops cached command-check results whenever an
	// implementation stage is recorded: new code means stale typecheck
	// and test results. Optional.
	Bus *events.Bus
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TypecheckCommand: "npm run typecheck",
		TypecheckTimeout: 60 * time.Second,
		TestsCommand:     "npm test",
		TestsTimeout:     120 * time.Second,
	}
}

// Service evaluates phase-gate conditions.
type Service interface {
	// Evaluate checks one condition for a phase and persists the result.
	Evaluate(ctx context.Context, req *EvaluateRequest) (*GateResult, error)

	// Close closes the service.
	Close() error
}

// EvaluateRequest is one gate check invocation. RunTypecheck and RunTests
// select which command checks are attempted; a disabled check passes
// vacuously with a skipped note.
type EvaluateRequest struct {
	SessionID    string
	PhaseID      string
	Condition    string
	RunTypecheck bool
	RunTests     bool
}

// service implements the Service interface.
type service struct {
	config  *Config
	store   SessionStore
	runner  runner.Runner
	cache   *Cache
	limiter *phaseLimiter
	metrics *Metrics
	logger  *zap.Logger

	stageSub *nats.Subscription

	// Telemetry
	tracer      trace.Tracer
	meter       metric.Meter
	evalCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates a new gate service.
func NewService(cfg *Config, store SessionStore, r runner.Runner, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.TypecheckCommand == "" {
		cfg.TypecheckCommand = "npm run typecheck"
	}
	if cfg.TypecheckTimeout <= 0 {
		cfg.TypecheckTimeout = 60 * time.Second
	}
	if cfg.TestsCommand == "" {
		cfg.TestsCommand = "npm test"
	}
	if cfg.TestsTimeout <= 0 {
		cfg.TestsTimeout = 120 * time.Second
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if r == nil {
		return nil, errors.New("runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics := NewMetrics()
	cache := NewCache(cfg.CacheTTL, cfg.CacheMaxEntries)
	cache.SetMetrics(metrics)

	s := &service{
		config:  cfg,
		store:   store,
		runner:  r,
		cache:   cache,
		limiter: newPhaseLimiter(cfg.EnforceCooldown),
		metrics: metrics,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}

	s.initMetrics()

	if cfg.Bus != nil {
		sub, err := cfg.Bus.SubscribeStages(s.onStageEvent)
		if err != nil {
			return nil, fmt.Errorf("failed to watch stage events: %w", err)
		}
		s.stageSub = sub
	}

	return s, nil
}

// onStageEvent invalidates the command-check cache when an implementation
// stage lands. Store-backed checks always read fresh state, so only the
// command results need the nudge.
func (s *service) onStageEvent(evt events.StageEvent) {
	if evt.Stage != evidence.StageImplementation {
		return
	}
	s.cache.Clear()
	s.logger.Debug("cleared check cache after implementation stage",
		zap.String("session_id", evt.SessionID))
}

func (s *service) initMetrics() {
	var err error

	s.evalCounter, err = s.meter.Int64Counter(
		"sessiond.gate.evaluations_total",
		metric.WithDescription("Total number of gate evaluations"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		s.logger.Warn("failed to create evaluation counter", zap.Error(err))
	}
}

// Evaluate checks one condition for a phase and persists the result.
func (s *service) Evaluate(ctx context.Context, req *EvaluateRequest) (*GateResult, error) {
	ctx, span := s.tracer.Start(ctx, "gate.evaluate")
	defer span.End()

	if req == nil {
		return nil, errors.New("request is required")
	}
	span.SetAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.String("phase_id", req.PhaseID),
		attribute.String("condition", req.Condition),
	)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errors.New("service is closed")
	}
	s.mu.RUnlock()

	if req.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	if req.PhaseID == "" {
		return nil, errors.New("phase id is required")
	}

	// Syntax errors surface verbatim; they are the caller's to fix.
	ast, err := condition.Compile(req.Condition)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("invalid condition: %w", err)
	}

	if !s.limiter.Allow(req.SessionID, req.PhaseID) {
		if replayed, ok := s.replayLatest(ctx, req); ok {
			span.SetAttributes(attribute.Bool("rate_limited", true))
			return replayed, nil
		}
	}

	start := time.Now()
	eval := newEvaluation(s, req.SessionID, req.RunTypecheck, req.RunTests)
	passed, err := eval.evalNode(ctx, ast)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results := eval.results()
	result := &GateResult{
		PhaseID:    req.PhaseID,
		Passed:     passed,
		CheckedAt:  start.UTC(),
		Results:    results,
		DurationMS: time.Since(start).Milliseconds(),
	}
	for _, r := range results {
		if !r.Passed {
			result.Blockers = append(result.Blockers, fmt.Sprintf("%s: %s", r.Name, r.Message))
		}
	}

	if err := s.store.AppendGateResult(ctx, req.SessionID, req.PhaseID, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to persist gate result: %w", err)
	}

	outcome := "fail"
	if passed {
		outcome = "pass"
	}
	if s.metrics != nil {
		s.metrics.RecordEvaluation(outcome)
	}
	if s.evalCounter != nil {
		s.evalCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}

	s.logger.Info("evaluated gate",
		zap.String("session_id", req.SessionID),
		zap.String("phase_id", req.PhaseID),
		zap.Bool("passed", passed),
		zap.Int("blockers", len(result.Blockers)),
		zap.Int64("duration_ms", result.DurationMS),
	)

	span.SetAttributes(
		attribute.Bool("passed", passed),
		attribute.Int("blockers", len(result.Blockers)),
	)
	return result, nil
}

// replayLatest serves the previous result for a phase inside the cooldown
// window. When the phase has no history yet the evaluation proceeds.
func (s *service) replayLatest(ctx context.Context, req *EvaluateRequest) (*GateResult, bool) {
	raw, err := s.store.LatestGateResult(ctx, req.SessionID, req.PhaseID)
	if err != nil {
		if !errors.Is(err, session.ErrArtifactNotFound) {
			s.logger.Warn("failed to load previous gate result",
				zap.String("phase_id", req.PhaseID),
				zap.Error(err))
		}
		return nil, false
	}

	var result GateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		s.logger.Warn("failed to decode previous gate result",
			zap.String("phase_id", req.PhaseID),
			zap.Error(err))
		return nil, false
	}

	result.RateLimited = true
	result.Note = fmt.Sprintf("within %s enforcement cooldown; replaying previous result", s.config.EnforceCooldown)
	if s.metrics != nil {
		s.metrics.RecordRateLimited()
		s.metrics.RecordEvaluation("replayed")
	}
	s.logger.Info("replayed gate result within cooldown",
		zap.String("session_id", req.SessionID),
		zap.String("phase_id", req.PhaseID),
		zap.Bool("passed", result.Passed),
	)
	return &result, true
}

// Close closes the service.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.stageSub != nil {
		_ = s.stageSub.Unsubscribe()
		s.stageSub = nil
	}
	s.cache.Clear()
	return nil
}
