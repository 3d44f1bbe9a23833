package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiond/internal/events"
)

const instrumentationName = "github.com/fyrsmithlabs/sessiond/internal/evidence"

// Service provides evidence chain operations.
type Service interface {
	// RecordAnalysis attaches an analysis stage to the task's chain.
	RecordAnalysis(ctx context.Context, req *RecordAnalysisRequest) (*Chain, error)

	// RecordImplementation attaches an implementation stage.
	RecordImplementation(ctx context.Context, req *RecordImplementationRequest) (*Chain, error)

	// RecordValidation attaches a validation stage.
	RecordValidation(ctx context.Context, req *RecordValidationRequest) (*Chain, error)

	// Status returns one chain with its derived status recomputed.
	Status(ctx context.Context, sessionID, chainID string) (*Chain, error)

	// List returns every chain in the session, oldest first.
	List(ctx context.Context, sessionID string) ([]*Chain, error)

	// Validate runs link validation on one chain.
	Validate(ctx context.Context, sessionID, chainID string) (*ValidationReport, error)

	// Close closes the service.
	Close() error
}

// RecordAnalysisRequest records the analysis stage. Requirement is optional
// and seeds the chain when this is the first stage for the task.
type RecordAnalysisRequest struct {
	SessionID   string
	Requirement *Requirement
	Analysis    Analysis
}

// RecordImplementationRequest records the implementation stage.
type RecordImplementationRequest struct {
	SessionID      string
	Implementation Implementation
}

// RecordValidationRequest records the validation stage.
type RecordValidationRequest struct {
	SessionID  string
	Validation Validation
}

// service implements the Service interface.
type service struct {
	store     ChainStore
	assembler *Assembler
	bus       *events.Bus
	logger    *zap.Logger

	// Telemetry
	tracer       trace.Tracer
	meter        metric.Meter
	stageCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates a new evidence service. The bus may be nil, in which
// case stage-completion events are not published.
func NewService(store ChainStore, bus *events.Bus, logger *zap.Logger) (Service, error) {
	if store == nil {
		return nil, errors.New("chain store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	assembler, err := NewAssembler(store, logger)
	if err != nil {
		return nil, err
	}

	s := &service{
		store:     store,
		assembler: assembler,
		bus:       bus,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.stageCounter, err = s.meter.Int64Counter(
		"sessiond.evidence.stages_recorded_total",
		metric.WithDescription("Total number of chain stages recorded"),
		metric.WithUnit("{stage}"),
	)
	if err != nil {
		s.logger.Warn("failed to create stage counter", zap.Error(err))
	}
}

// RecordAnalysis attaches an analysis stage to the task's chain.
func (s *service) RecordAnalysis(ctx context.Context, req *RecordAnalysisRequest) (*Chain, error) {
	ctx, span := s.tracer.Start(ctx, "evidence.record_analysis")
	defer span.End()

	if req == nil {
		return nil, errors.New("request is required")
	}
	payload := StagePayload{Requirement: req.Requirement, Analysis: &req.Analysis}
	return s.record(ctx, span, req.SessionID, StageAnalysis, req.Analysis.TaskID, payload)
}

// RecordImplementation attaches an implementation stage.
func (s *service) RecordImplementation(ctx context.Context, req *RecordImplementationRequest) (*Chain, error) {
	ctx, span := s.tracer.Start(ctx, "evidence.record_implementation")
	defer span.End()

	if req == nil {
		return nil, errors.New("request is required")
	}
	payload := StagePayload{Implementation: &req.Implementation}
	return s.record(ctx, span, req.SessionID, StageImplementation, req.Implementation.TaskID, payload)
}

// RecordValidation attaches a validation stage.
func (s *service) RecordValidation(ctx context.Context, req *RecordValidationRequest) (*Chain, error) {
	ctx, span := s.tracer.Start(ctx, "evidence.record_validation")
	defer span.End()

	if req == nil {
		return nil, errors.New("request is required")
	}
	payload := StagePayload{Validation: &req.Validation}
	return s.record(ctx, span, req.SessionID, StageValidation, req.Validation.TaskID, payload)
}

func (s *service) record(ctx context.Context, span trace.Span, sessionID, stage, taskID string, payload StagePayload) (*Chain, error) {
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("task_id", taskID),
		attribute.String("stage", stage),
	)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errors.New("service is closed")
	}
	s.mu.RUnlock()

	record, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to marshal stage payload: %w", err)
	}

	evt := events.StageEvent{
		SessionID: sessionID,
		Stage:     stage,
		TaskID:    taskID,
		Record:    record,
		EmittedAt: time.Now().UTC(),
	}
	chain, err := s.assembler.Apply(ctx, evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// The store write is the source of truth; a publish failure only
	// costs observers a refresh.
	if s.bus != nil {
		if err := s.bus.PublishStage(ctx, evt); err != nil {
			s.logger.Warn("failed to publish stage event",
				zap.String("chain_id", chain.ID),
				zap.Error(err))
		}
	}

	if s.stageCounter != nil {
		s.stageCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", stage),
		))
	}

	s.logger.Info("recorded chain stage",
		zap.String("session_id", sessionID),
		zap.String("chain_id", chain.ID),
		zap.String("stage", stage),
		zap.Int("coverage", chain.Status.CoveragePercent),
	)

	span.SetAttributes(attribute.String("chain_id", chain.ID))
	return chain, nil
}

// Status returns one chain with its derived status recomputed.
func (s *service) Status(ctx context.Context, sessionID, chainID string) (*Chain, error) {
	ctx, span := s.tracer.Start(ctx, "evidence.status")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("chain_id", chainID),
	)

	chain, err := s.store.GetChain(ctx, sessionID, chainID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return chain, nil
}

// List returns every chain in the session, oldest first.
func (s *service) List(ctx context.Context, sessionID string) ([]*Chain, error) {
	ctx, span := s.tracer.Start(ctx, "evidence.list")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", sessionID))

	chains, err := s.store.ListChains(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("chains", len(chains)))
	return chains, nil
}

// Validate runs link validation on one chain.
func (s *service) Validate(ctx context.Context, sessionID, chainID string) (*ValidationReport, error) {
	ctx, span := s.tracer.Start(ctx, "evidence.validate")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("chain_id", chainID),
	)

	chain, err := s.store.GetChain(ctx, sessionID, chainID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := FromChain(chain).ValidateChainLinks()
	span.SetAttributes(
		attribute.Bool("valid", report.Valid),
		attribute.Int("coverage_percent", report.CoveragePercent),
	)
	return &report, nil
}

// Close closes the service.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
