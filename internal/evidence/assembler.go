package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiond/internal/events"
)

// ChainStore is the persistence surface the assembler needs. Implemented by
// the session store.
type ChainStore interface {
	SaveChain(ctx context.Context, chain *Chain) error
	GetChain(ctx context.Context, sessionID, chainID string) (*Chain, error)
	ListChains(ctx context.Context, sessionID string) ([]*Chain, error)
}

// StagePayload is the wire form of one recorded stage, carried in the
// Record field of a stage-completion event. Exactly one stage is set.
// Requirement travels only with analysis and seeds new chains.
type StagePayload struct {
	Requirement    *Requirement    `json:"requirement,omitempty"`
	Analysis       *Analysis       `json:"analysis,omitempty"`
	Implementation *Implementation `json:"implementation,omitempty"`
	Validation     *Validation     `json:"validation,omitempty"`
}

// Assembler folds stage-completion events into chains. Stage records are
// never replaced: when a stage arrives for a task whose newest chain
// already carries that stage, a fresh chain is opened under the same
// requirement. Applies are serialized because the store does read-modify-
// write on chain files.
type Assembler struct {
	store  ChainStore
	logger *zap.Logger

	mu sync.Mutex
}

// NewAssembler creates an assembler over the given chain store.
func NewAssembler(store ChainStore, logger *zap.Logger) (*Assembler, error) {
	if store == nil {
		return nil, errors.New("chain store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{store: store, logger: logger}, nil
}

// Apply folds one stage-completion event into its chain and persists the
// result. Returns the chain as stored, with derived status recomputed.
func (a *Assembler) Apply(ctx context.Context, evt events.StageEvent) (*Chain, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if evt.SessionID == "" {
		return nil, errors.New("stage event session id is required")
	}
	if evt.TaskID == "" {
		return nil, errors.New("stage event task id is required")
	}

	var payload StagePayload
	if err := json.Unmarshal(evt.Record, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode stage payload: %w", err)
	}

	builder, chainID, err := a.resolveBuilder(ctx, evt, &payload)
	if err != nil {
		return nil, err
	}

	switch evt.Stage {
	case StageAnalysis:
		if payload.Analysis == nil {
			return nil, errors.New("analysis event carries no analysis record")
		}
		builder.SetAnalysis(*payload.Analysis)
	case StageImplementation:
		if payload.Implementation == nil {
			return nil, errors.New("implementation event carries no implementation record")
		}
		builder.SetImplementation(*payload.Implementation)
	case StageValidation:
		if payload.Validation == nil {
			return nil, errors.New("validation event carries no validation record")
		}
		builder.SetValidation(*payload.Validation)
	default:
		return nil, fmt.Errorf("unknown stage: %q", evt.Stage)
	}

	chain, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to assemble chain %s: %w", chainID, err)
	}
	if err := a.store.SaveChain(ctx, chain); err != nil {
		return nil, err
	}

	a.logger.Info("assembled chain stage",
		zap.String("session_id", evt.SessionID),
		zap.String("chain_id", chain.ID),
		zap.String("stage", evt.Stage),
		zap.Int("coverage", chain.Status.CoveragePercent))
	return chain, nil
}

// resolveBuilder picks the chain the event belongs to. The newest chain for
// the task receives the stage unless it already has one of that kind, in
// which case a successor chain is opened.
func (a *Assembler) resolveBuilder(ctx context.Context, evt events.StageEvent, payload *StagePayload) (*Builder, string, error) {
	chains, err := a.store.ListChains(ctx, evt.SessionID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list chains: %w", err)
	}

	var forTask []*Chain
	for _, c := range chains {
		if c.Requirement.TaskID == evt.TaskID {
			forTask = append(forTask, c)
		}
	}

	req := Requirement{TaskID: evt.TaskID}
	if payload.Requirement != nil {
		req = *payload.Requirement
		if req.TaskID == "" {
			req.TaskID = evt.TaskID
		}
		if req.TaskID != evt.TaskID {
			return nil, "", fmt.Errorf("requirement task %q does not match event task %q", req.TaskID, evt.TaskID)
		}
	}

	if len(forTask) == 0 {
		builder := NewBuilder(evt.SessionID).SetRequirement(req)
		return builder, evt.TaskID, nil
	}

	// ListChains is ordered oldest first.
	newest := forTask[len(forTask)-1]
	if !hasStage(newest, evt.Stage) {
		if payload.Requirement != nil && !reflect.DeepEqual(req, newest.Requirement) {
			a.logger.Warn("stage event requirement conflicts with chain; keeping the stored requirement",
				zap.String("session_id", evt.SessionID),
				zap.String("chain_id", newest.ID),
				zap.String("task_id", evt.TaskID))
		}
		return FromChain(newest), newest.ID, nil
	}

	// Successor chains inherit the predecessor's requirement unless the
	// event carries a fresh one.
	if payload.Requirement == nil {
		req = newest.Requirement
	}
	id := successorID(evt.TaskID, chains, len(forTask)+1)
	builder := FromChain(&Chain{ID: id, SessionID: evt.SessionID}).SetRequirement(req)
	a.logger.Info("opening successor chain",
		zap.String("session_id", evt.SessionID),
		zap.String("task_id", evt.TaskID),
		zap.String("chain_id", id),
		zap.String("stage", evt.Stage))
	return builder, id, nil
}

func hasStage(c *Chain, stage string) bool {
	switch stage {
	case StageAnalysis:
		return c.Analysis != nil
	case StageImplementation:
		return c.Implementation != nil
	case StageValidation:
		return c.Validation != nil
	default:
		return false
	}
}

// successorID returns the first free <task>_<n> id at or above n.
func successorID(taskID string, existing []*Chain, n int) string {
	taken := make(map[string]bool, len(existing))
	for _, c := range existing {
		taken[c.ID] = true
	}
	for {
		id := fmt.Sprintf("%s_%d", taskID, n)
		if !taken[id] {
			return id
		}
		n++
	}
}
