package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/sessiond/internal/events"
)

// mockChainStore implements ChainStore for testing.
type mockChainStore struct {
	chains  map[string]*Chain // sessionID/chainID
	saveErr error
}

func newMockChainStore() *mockChainStore {
	return &mockChainStore{chains: make(map[string]*Chain)}
}

func (m *mockChainStore) SaveChain(ctx context.Context, chain *Chain) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	copied := *chain
	m.chains[chain.SessionID+"/"+chain.ID] = &copied
	return nil
}

func (m *mockChainStore) GetChain(ctx context.Context, sessionID, chainID string) (*Chain, error) {
	chain, ok := m.chains[sessionID+"/"+chainID]
	if !ok {
		return nil, fmt.Errorf("chain not found: %s", chainID)
	}
	copied := *chain
	return &copied, nil
}

func (m *mockChainStore) ListChains(ctx context.Context, sessionID string) ([]*Chain, error) {
	var chains []*Chain
	for _, chain := range m.chains {
		if chain.SessionID == sessionID {
			copied := *chain
			chains = append(chains, &copied)
		}
	}
	sort.Slice(chains, func(i, j int) bool {
		if chains[i].CreatedAt.Equal(chains[j].CreatedAt) {
			return chains[i].ID < chains[j].ID
		}
		return chains[i].CreatedAt.Before(chains[j].CreatedAt)
	})
	return chains, nil
}

func analysisEvent(t *testing.T, sessionID, taskID string, payload StagePayload) events.StageEvent {
	t.Helper()
	record, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.StageEvent{
		SessionID: sessionID,
		Stage:     StageAnalysis,
		TaskID:    taskID,
		Record:    record,
	}
}

func stageEvent(t *testing.T, sessionID, stage, taskID string, payload StagePayload) events.StageEvent {
	t.Helper()
	record, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.StageEvent{
		SessionID: sessionID,
		Stage:     stage,
		TaskID:    taskID,
		Record:    record,
	}
}

func TestAssembler_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("analysis opens a chain named after the task", func(t *testing.T) {
		store := newMockChainStore()
		asm, err := NewAssembler(store, nil)
		require.NoError(t, err)

		evt := analysisEvent(t, "sess_1", "task_auth", StagePayload{
			Requirement: &Requirement{
				TaskID:             "task_auth",
				Description:        "add token auth",
				AcceptanceCriteria: []string{"tokens expire"},
			},
			Analysis: &Analysis{AgentID: "analyst", TaskID: "task_auth"},
		})
		chain, err := asm.Apply(ctx, evt)
		require.NoError(t, err)
		assert.Equal(t, "task_auth", chain.ID)
		assert.Equal(t, "add token auth", chain.Requirement.Description)
		assert.True(t, chain.Status.AnalysisLinked)
		assert.Equal(t, 1, chain.Status.CriteriaTotal)
	})

	t.Run("later stages land on the same chain", func(t *testing.T) {
		store := newMockChainStore()
		asm, err := NewAssembler(store, nil)
		require.NoError(t, err)

		_, err = asm.Apply(ctx, analysisEvent(t, "sess_1", "task_auth", StagePayload{
			Analysis: &Analysis{AgentID: "analyst", TaskID: "task_auth"},
		}))
		require.NoError(t, err)

		chain, err := asm.Apply(ctx, stageEvent(t, "sess_1", StageImplementation, "task_auth", StagePayload{
			Implementation: &Implementation{
				AgentID: "coder",
				TaskID:  "task_auth",
				LinksTo: &LinksTo{Upstream: "task_auth"},
			},
		}))
		require.NoError(t, err)
		assert.Equal(t, "task_auth", chain.ID)
		assert.True(t, chain.Status.AnalysisLinked)
		assert.True(t, chain.Status.ImplementationLinked)
	})

	t.Run("duplicate stage opens a successor chain", func(t *testing.T) {
		store := newMockChainStore()
		asm, err := NewAssembler(store, nil)
		require.NoError(t, err)

		first, err := asm.Apply(ctx, analysisEvent(t, "sess_1", "task_auth", StagePayload{
			Requirement: &Requirement{TaskID: "task_auth", Description: "add token auth"},
			Analysis:    &Analysis{AgentID: "analyst", TaskID: "task_auth", Findings: "v1"},
		}))
		require.NoError(t, err)

		second, err := asm.Apply(ctx, analysisEvent(t, "sess_1", "task_auth", StagePayload{
			Analysis: &Analysis{AgentID: "analyst", TaskID: "task_auth", Findings: "v2"},
		}))
		require.NoError(t, err)

		assert.Equal(t, "task_auth_2", second.ID)
		assert.Equal(t, "add token auth", second.Requirement.Description,
			"successor inherits the requirement")
		assert.Equal(t, "v2", second.Analysis.Findings)

		// The first chain is untouched.
		stored, err := store.GetChain(ctx, "sess_1", first.ID)
		require.NoError(t, err)
		assert.Equal(t, "v1", stored.Analysis.Findings)
	})

	t.Run("out-of-order stage opens a chain with a bare requirement", func(t *testing.T) {
		store := newMockChainStore()
		asm, err := NewAssembler(store, nil)
		require.NoError(t, err)

		chain, err := asm.Apply(ctx, stageEvent(t, "sess_1", StageValidation, "task_fix", StagePayload{
			Validation: &Validation{AgentID: "validator", TaskID: "task_fix", TestsPassed: 2},
		}))
		require.NoError(t, err)
		assert.Equal(t, "task_fix", chain.ID)
		assert.Equal(t, "task_fix", chain.Requirement.TaskID)
		assert.True(t, chain.Status.ValidationLinked)
	})

	t.Run("conflicting requirement on a live chain is kept out and logged", func(t *testing.T) {
		store := newMockChainStore()
		core, observed := observer.New(zapcore.WarnLevel)
		asm, err := NewAssembler(store, zap.New(core))
		require.NoError(t, err)

		_, err = asm.Apply(ctx, analysisEvent(t, "sess_1", "task_auth", StagePayload{
			Requirement: &Requirement{TaskID: "task_auth", Description: "add token auth"},
			Analysis:    &Analysis{AgentID: "analyst", TaskID: "task_auth"},
		}))
		require.NoError(t, err)

		chain, err := asm.Apply(ctx, stageEvent(t, "sess_1", StageImplementation, "task_auth", StagePayload{
			Requirement:    &Requirement{TaskID: "task_auth", Description: "rewrite auth in rust"},
			Implementation: &Implementation{AgentID: "coder", TaskID: "task_auth"},
		}))
		require.NoError(t, err)
		assert.Equal(t, "add token auth", chain.Requirement.Description,
			"stored requirement wins")
		require.Equal(t, 1, observed.Len())
		assert.Contains(t, observed.All()[0].Message, "requirement conflicts")

		// An identical requirement is not a conflict.
		chain, err = asm.Apply(ctx, stageEvent(t, "sess_1", StageValidation, "task_auth", StagePayload{
			Requirement: &Requirement{TaskID: "task_auth", Description: "add token auth"},
			Validation:  &Validation{AgentID: "validator", TaskID: "task_auth", TestsPassed: 1},
		}))
		require.NoError(t, err)
		assert.Equal(t, "add token auth", chain.Requirement.Description)
		assert.Equal(t, 1, observed.Len())
	})

	t.Run("rejects mismatched requirement task", func(t *testing.T) {
		store := newMockChainStore()
		asm, err := NewAssembler(store, nil)
		require.NoError(t, err)

		_, err = asm.Apply(ctx, analysisEvent(t, "sess_1", "task_a", StagePayload{
			Requirement: &Requirement{TaskID: "task_b"},
			Analysis:    &Analysis{AgentID: "analyst", TaskID: "task_a"},
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match")
	})

	t.Run("rejects events without a stage record", func(t *testing.T) {
		store := newMockChainStore()
		asm, err := NewAssembler(store, nil)
		require.NoError(t, err)

		_, err = asm.Apply(ctx, analysisEvent(t, "sess_1", "task_a", StagePayload{}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no analysis record")
	})

	t.Run("rejects unknown stages", func(t *testing.T) {
		store := newMockChainStore()
		asm, err := NewAssembler(store, nil)
		require.NoError(t, err)

		_, err = asm.Apply(ctx, stageEvent(t, "sess_1", "deploy", "task_a", StagePayload{}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown stage")
	})

	t.Run("requires session and task ids", func(t *testing.T) {
		store := newMockChainStore()
		asm, err := NewAssembler(store, nil)
		require.NoError(t, err)

		_, err = asm.Apply(ctx, events.StageEvent{Stage: StageAnalysis, TaskID: "task_a"})
		require.Error(t, err)
		_, err = asm.Apply(ctx, events.StageEvent{SessionID: "sess_1", Stage: StageAnalysis})
		require.Error(t, err)
	})

	t.Run("requires a store", func(t *testing.T) {
		_, err := NewAssembler(nil, nil)
		require.Error(t, err)
	})
}
