package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/sessiond/internal/events"
	"github.com/fyrsmithlabs/sessiond/internal/evidence"
	"github.com/fyrsmithlabs/sessiond/internal/runner"
	"github.com/fyrsmithlabs/sessiond/internal/session"
)

// mockSessionStore implements SessionStore for testing.
type mockSessionStore struct {
	memoryNames []string
	memories    []session.LinkedMemory
	chains      []*evidence.Chain

	mu      sync.Mutex
	history map[string][]json.RawMessage
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{history: make(map[string][]json.RawMessage)}
}

func (m *mockSessionStore) MemoryNames(ctx context.Context, sessionID string) ([]string, error) {
	return m.memoryNames, nil
}

func (m *mockSessionStore) ListMemories(ctx context.Context, sessionID string) ([]session.LinkedMemory, error) {
	return m.memories, nil
}

func (m *mockSessionStore) GetChain(ctx context.Context, sessionID, chainID string) (*evidence.Chain, error) {
	for _, c := range m.chains {
		if c.ID == chainID {
			return c, nil
		}
	}
	return nil, fmt.Errorf("chain not found: %s", chainID)
}

func (m *mockSessionStore) ListChains(ctx context.Context, sessionID string) ([]*evidence.Chain, error) {
	return m.chains, nil
}

func (m *mockSessionStore) AppendGateResult(ctx context.Context, sessionID, phaseID string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[phaseID] = append(m.history[phaseID], data)
	return nil
}

func (m *mockSessionStore) LatestGateResult(ctx context.Context, sessionID, phaseID string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := m.history[phaseID]
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no gate result for %s", session.ErrArtifactNotFound, phaseID)
	}
	return results[len(results)-1], nil
}

func (m *mockSessionStore) appendCount(phaseID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history[phaseID])
}

// scriptedRunner returns canned results per command and counts executions.
type scriptedRunner struct {
	mu      sync.Mutex
	results map[string]runner.Result
	calls   map[string]int
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		results: make(map[string]runner.Result),
		calls:   make(map[string]int),
	}
}

func (r *scriptedRunner) script(command string, res runner.Result) {
	r.results[command] = res
}

func (r *scriptedRunner) Run(ctx context.Context, command string, timeout time.Duration) (runner.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[command]++
	res, ok := r.results[command]
	if !ok {
		return runner.Result{}, fmt.Errorf("no script for command %q", command)
	}
	return res, nil
}

func (r *scriptedRunner) callCount(command string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[command]
}

func chainWithCoverage(id string, pct int) *evidence.Chain {
	return &evidence.Chain{
		ID:          id,
		SessionID:   "sess_1",
		Requirement: evidence.Requirement{TaskID: id},
		Status:      evidence.ChainStatus{CoveragePercent: pct},
	}
}

func newTestService(t *testing.T, cfg *Config, store SessionStore, r runner.Runner) Service {
	t.Helper()
	svc, err := NewService(cfg, store, r, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestService_Evaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("empty condition always passes", func(t *testing.T) {
		store := newMockSessionStore()
		svc := newTestService(t, nil, store, newScriptedRunner())

		result, err := svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "plan", Condition: "   "})
		require.NoError(t, err)
		assert.True(t, result.Passed)
		assert.Empty(t, result.Blockers)
		assert.Equal(t, 1, store.appendCount("plan"))
	})

	t.Run("syntax errors surface verbatim", func(t *testing.T) {
		svc := newTestService(t, nil, newMockSessionStore(), newScriptedRunner())

		_, err := svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "plan", Condition: "typecheck AND AND"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid condition")
	})

	t.Run("failing typecheck short-circuits to exactly one blocker", func(t *testing.T) {
		r := newScriptedRunner()
		r.script("npm run typecheck", runner.Result{ExitCode: 2, Stderr: "Found 3 errors in src/app.ts"})
		r.script("npm test", runner.Result{ExitCode: 1, Stderr: "2 failed"})
		svc := newTestService(t, nil, newMockSessionStore(), r)

		result, err := svc.Evaluate(ctx, &EvaluateRequest{
			SessionID:    "sess_1",
			PhaseID:      "implement",
			Condition:    "typecheck AND (tests OR memory:SKIP_*)",
			RunTypecheck: true,
			RunTests:     true,
		})
		require.NoError(t, err)
		assert.False(t, result.Passed)
		require.Len(t, result.Blockers, 1)
		assert.Equal(t, "typecheck: 3 type errors", result.Blockers[0])
		assert.Equal(t, 0, r.callCount("npm test"), "AND right side never evaluated")
	})

	t.Run("disabled checks pass vacuously", func(t *testing.T) {
		svc := newTestService(t, nil, newMockSessionStore(), newScriptedRunner())

		result, err := svc.Evaluate(ctx, &EvaluateRequest{
			SessionID: "sess_1",
			PhaseID:   "plan",
			Condition: "typecheck AND tests",
		})
		require.NoError(t, err)
		assert.True(t, result.Passed)
		assert.Empty(t, result.Blockers)
		require.Len(t, result.Results, 2)
		for _, check := range result.Results {
			assert.True(t, check.Skipped)
			assert.Contains(t, check.Message, "skipped")
		}
	})

	t.Run("duplicated leaves execute once", func(t *testing.T) {
		r := newScriptedRunner()
		r.script("npm test", runner.Result{ExitCode: 0, Stdout: "12 passed, 12 total"})
		svc := newTestService(t, nil, newMockSessionStore(), r)

		result, err := svc.Evaluate(ctx, &EvaluateRequest{
			SessionID: "sess_1",
			PhaseID:   "validate",
			Condition: "tests OR (tests AND tests)",
			RunTests:  true,
		})
		require.NoError(t, err)
		assert.True(t, result.Passed)
		assert.Equal(t, 1, r.callCount("npm test"))
		assert.Len(t, result.Results, 1, "memoized leaf reported once")
	})

	t.Run("timeouts become failing results, not errors", func(t *testing.T) {
		r := newScriptedRunner()
		r.script("npm run typecheck", runner.Result{TimedOut: true, ExitCode: -1})
		svc := newTestService(t, nil, newMockSessionStore(), r)

		result, err := svc.Evaluate(ctx, &EvaluateRequest{
			SessionID:    "sess_1",
			PhaseID:      "implement",
			Condition:    "typecheck",
			RunTypecheck: true,
		})
		require.NoError(t, err)
		assert.False(t, result.Passed)
		require.Len(t, result.Blockers, 1)
		assert.Contains(t, result.Blockers[0], "timed out")
	})

	t.Run("idempotent against an unchanged context", func(t *testing.T) {
		r := newScriptedRunner()
		r.script("npm run typecheck", runner.Result{ExitCode: 1, Stderr: "Found 2 errors"})
		store := newMockSessionStore()
		svc := newTestService(t, nil, store, r)

		req := &EvaluateRequest{
			SessionID:    "sess_1",
			PhaseID:      "implement",
			Condition:    "typecheck OR evidence:missing",
			RunTypecheck: true,
		}
		first, err := svc.Evaluate(ctx, req)
		require.NoError(t, err)
		second, err := svc.Evaluate(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, first.Passed, second.Passed)
		assert.Equal(t, first.Blockers, second.Blockers)
	})

	t.Run("NOT failing gate produces no blockers", func(t *testing.T) {
		store := newMockSessionStore()
		store.chains = []*evidence.Chain{chainWithCoverage("task_a", 50)}
		svc := newTestService(t, nil, store, newScriptedRunner())

		result, err := svc.Evaluate(ctx, &EvaluateRequest{
			SessionID: "sess_1",
			PhaseID:   "plan",
			Condition: "NOT evidence:task_a",
		})
		require.NoError(t, err)
		assert.False(t, result.Passed)
		assert.Empty(t, result.Blockers, "only failing leaves contribute blockers")
	})
}

func TestService_StoreChecks(t *testing.T) {
	ctx := context.Background()

	t.Run("memory glob lists all matches", func(t *testing.T) {
		store := newMockSessionStore()
		store.memoryNames = []string{"SKIP_ci", "SKIP_lint", "auth_design"}
		svc := newTestService(t, nil, store, newScriptedRunner())

		result, err := svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "plan", Condition: "memory:SKIP_*"})
		require.NoError(t, err)
		assert.True(t, result.Passed)
		assert.Contains(t, result.Results[0].Message, "SKIP_ci")
		assert.Contains(t, result.Results[0].Message, "SKIP_lint")
		assert.NotContains(t, result.Results[0].Message, "auth_design")
	})

	t.Run("memory glob is case-sensitive", func(t *testing.T) {
		store := newMockSessionStore()
		store.memoryNames = []string{"skip_ci"}
		svc := newTestService(t, nil, store, newScriptedRunner())

		result, err := svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "plan", Condition: "memory:SKIP_*"})
		require.NoError(t, err)
		assert.False(t, result.Passed)
	})

	t.Run("traceability field scan", func(t *testing.T) {
		store := newMockSessionStore()
		store.memories = []session.LinkedMemory{
			{MemoryName: "empty_notes"},
			{MemoryName: "analysis_notes", Traceability: &session.Traceability{EntryPoints: []string{"main"}}},
		}
		svc := newTestService(t, nil, store, newScriptedRunner())

		result, err := svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "plan", Condition: "traceability:entry_points"})
		require.NoError(t, err)
		assert.True(t, result.Passed)
		assert.Contains(t, result.Results[0].Message, "analysis_notes")

		result, err = svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "plan", Condition: "traceability:data_flow_map"})
		require.NoError(t, err)
		assert.False(t, result.Passed)
	})

	t.Run("unknown traceability field is reported even without memories", func(t *testing.T) {
		for _, memories := range [][]session.LinkedMemory{
			nil,
			{{MemoryName: "empty_notes"}},
		} {
			store := newMockSessionStore()
			store.memories = memories
			svc := newTestService(t, nil, store, newScriptedRunner())

			result, err := svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "plan", Condition: "traceability:bogus"})
			require.NoError(t, err)
			assert.False(t, result.Passed)
			assert.Contains(t, result.Results[0].Message, `unknown traceability field "bogus"`)
		}
	})

	t.Run("evidence existence", func(t *testing.T) {
		store := newMockSessionStore()
		store.chains = []*evidence.Chain{chainWithCoverage("task_auth", 40)}
		svc := newTestService(t, nil, store, newScriptedRunner())

		result, err := svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "plan", Condition: "evidence:task_auth exists"})
		require.NoError(t, err)
		assert.True(t, result.Passed)

		result, err = svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "plan", Condition: "evidence:task_ghost"})
		require.NoError(t, err)
		assert.False(t, result.Passed)
	})

	t.Run("bare coverage check wants any chain above zero", func(t *testing.T) {
		store := newMockSessionStore()
		store.chains = []*evidence.Chain{chainWithCoverage("task_a", 0)}
		svc := newTestService(t, nil, store, newScriptedRunner())

		result, err := svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "plan", Condition: "evidence:coverage"})
		require.NoError(t, err)
		assert.False(t, result.Passed)

		store.chains = append(store.chains, chainWithCoverage("task_b", 10))
		result, err = svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "plan", Condition: "evidence:coverage"})
		require.NoError(t, err)
		assert.True(t, result.Passed)
	})

	t.Run("unknown checks fail closed", func(t *testing.T) {
		svc := newTestService(t, nil, newMockSessionStore(), newScriptedRunner())

		result, err := svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "plan", Condition: "linting"})
		require.NoError(t, err)
		assert.False(t, result.Passed)
		assert.Contains(t, result.Results[0].Message, "unknown check")
	})
}

func TestService_Thresholds(t *testing.T) {
	ctx := context.Background()

	t.Run("mean coverage across chains", func(t *testing.T) {
		store := newMockSessionStore()
		store.chains = []*evidence.Chain{
			chainWithCoverage("a", 60),
			chainWithCoverage("b", 80),
			chainWithCoverage("c", 100),
		}
		svc := newTestService(t, nil, store, newScriptedRunner())

		result, err := svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "ship", Condition: "coverage >= 80%"})
		require.NoError(t, err)
		assert.True(t, result.Passed, "mean of [60,80,100] is 80")

		store.chains = []*evidence.Chain{chainWithCoverage("a", 60), chainWithCoverage("b", 70)}
		result, err = svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "ship", Condition: "evidence:coverage >= 80"})
		require.NoError(t, err)
		assert.False(t, result.Passed, "mean of [60,70] is 65")
	})

	t.Run("all five operators", func(t *testing.T) {
		store := newMockSessionStore()
		store.chains = []*evidence.Chain{chainWithCoverage("a", 50)}
		svc := newTestService(t, nil, store, newScriptedRunner())

		tests := []struct {
			condition string
			want      bool
		}{
			{"coverage >= 50", true},
			{"coverage <= 50", true},
			{"coverage > 50", false},
			{"coverage < 50", false},
			{"coverage = 50", true},
		}
		for _, tc := range tests {
			result, err := svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "ship", Condition: tc.condition})
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Passed, "condition %q", tc.condition)
		}
	})

	t.Run("tests thresholds parse counts", func(t *testing.T) {
		r := newScriptedRunner()
		r.script("npm test", runner.Result{ExitCode: 1, Stdout: "Tests: 3 failed, 12 passed, 15 total"})
		svc := newTestService(t, nil, newMockSessionStore(), r)

		result, err := svc.Evaluate(ctx, &EvaluateRequest{
			SessionID: "sess_1", PhaseID: "validate",
			Condition: "tests[passed] >= 10 AND tests[failed] <= 5 AND tests[total] = 15",
			RunTests:  true,
		})
		require.NoError(t, err)
		assert.True(t, result.Passed)
		assert.Equal(t, 1, r.callCount("npm test"), "one command run serves all three thresholds")
	})

	t.Run("silent clean exit counts as fully passing", func(t *testing.T) {
		r := newScriptedRunner()
		r.script("npm test", runner.Result{ExitCode: 0, Stdout: "done"})
		svc := newTestService(t, nil, newMockSessionStore(), r)

		result, err := svc.Evaluate(ctx, &EvaluateRequest{
			SessionID: "sess_1", PhaseID: "validate",
			Condition: "tests[passed] >= 100 AND tests[failed] = 0",
			RunTests:  true,
		})
		require.NoError(t, err)
		assert.True(t, result.Passed)
	})

	t.Run("unknown threshold fields fail closed", func(t *testing.T) {
		r := newScriptedRunner()
		r.script("npm test", runner.Result{ExitCode: 0})
		svc := newTestService(t, nil, newMockSessionStore(), r)

		result, err := svc.Evaluate(ctx, &EvaluateRequest{
			SessionID: "sess_1", PhaseID: "validate",
			Condition: "tests[flaky] >= 1",
			RunTests:  true,
		})
		require.NoError(t, err)
		assert.False(t, result.Passed)
		assert.Contains(t, result.Results[0].Message, "unknown tests field")

		result, err = svc.Evaluate(ctx, &EvaluateRequest{
			SessionID: "sess_1", PhaseID: "validate",
			Condition: "memory[count] >= 1",
		})
		require.NoError(t, err)
		assert.False(t, result.Passed)
		assert.Contains(t, result.Results[0].Message, "unknown threshold check")
	})
}

func TestService_Cooldown(t *testing.T) {
	ctx := context.Background()

	t.Run("replays the previous result within the cooldown", func(t *testing.T) {
		store := newMockSessionStore()
		cfg := DefaultConfig()
		cfg.EnforceCooldown = time.Hour
		svc := newTestService(t, cfg, store, newScriptedRunner())

		req := &EvaluateRequest{SessionID: "sess_1", PhaseID: "implement", Condition: ""}
		first, err := svc.Evaluate(ctx, req)
		require.NoError(t, err)
		assert.False(t, first.RateLimited)

		second, err := svc.Evaluate(ctx, req)
		require.NoError(t, err)
		assert.True(t, second.RateLimited)
		assert.Contains(t, second.Note, "cooldown")
		assert.Equal(t, first.Passed, second.Passed)
		assert.Equal(t, 1, store.appendCount("implement"), "replays are not re-appended")
	})

	t.Run("phases cool down independently", func(t *testing.T) {
		store := newMockSessionStore()
		cfg := DefaultConfig()
		cfg.EnforceCooldown = time.Hour
		svc := newTestService(t, cfg, store, newScriptedRunner())

		_, err := svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "plan", Condition: ""})
		require.NoError(t, err)
		other, err := svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1", PhaseID: "ship", Condition: ""})
		require.NoError(t, err)
		assert.False(t, other.RateLimited)
	})

	t.Run("zero cooldown never replays", func(t *testing.T) {
		store := newMockSessionStore()
		svc := newTestService(t, nil, store, newScriptedRunner())

		req := &EvaluateRequest{SessionID: "sess_1", PhaseID: "plan", Condition: ""}
		for i := 0; i < 3; i++ {
			result, err := svc.Evaluate(ctx, req)
			require.NoError(t, err)
			assert.False(t, result.RateLimited)
		}
		assert.Equal(t, 3, store.appendCount("plan"))
	})
}

func TestService_StageEventsInvalidateCheckCache(t *testing.T) {
	ctx := context.Background()
	bus, err := events.NewBus(nil)
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	r := newScriptedRunner()
	r.script("npm test", runner.Result{ExitCode: 0, Stdout: "Tests: 12 passed, 12 total"})

	cfg := DefaultConfig()
	cfg.CacheTTL = time.Hour
	cfg.Bus = bus
	svc, err := NewService(cfg, newMockSessionStore(), r, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	req := &EvaluateRequest{SessionID: "sess_1", PhaseID: "validate", Condition: "tests", RunTests: true}
	_, err = svc.Evaluate(ctx, req)
	require.NoError(t, err)
	_, err = svc.Evaluate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, r.callCount("npm test"), "second evaluation served from the cache")

	// An analysis stage records no code change, so the cache survives.
	require.NoError(t, bus.PublishStage(ctx, events.StageEvent{SessionID: "sess_1", Stage: evidence.StageAnalysis}))
	require.NoError(t, bus.Flush())
	_, err = svc.Evaluate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, r.callCount("npm test"))

	// An implementation stage means the code changed: the next
	// evaluation must re-run the command.
	require.NoError(t, bus.PublishStage(ctx, events.StageEvent{SessionID: "sess_1", Stage: evidence.StageImplementation}))
	require.NoError(t, bus.Flush())
	require.Eventually(t, func() bool {
		_, err := svc.Evaluate(ctx, req)
		return err == nil && r.callCount("npm test") >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRenderReport(t *testing.T) {
	result := &GateResult{
		PhaseID:   "implement",
		Passed:    false,
		CheckedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Results: []CheckResult{
			{Name: "typecheck", Passed: false, Message: "3 type errors"},
			{Name: "memory:SKIP_*", Passed: true, Message: "matches [SKIP_ci]"},
			{Name: "tests", Passed: true, Skipped: true, Message: "skipped (tests disabled)"},
		},
		Blockers:   []string{"typecheck: 3 type errors"},
		DurationMS: 42,
	}

	report := RenderReport(result)
	assert.Contains(t, report, "Gate implement: FAIL (42ms)")
	assert.Contains(t, report, "✗ typecheck: 3 type errors")
	assert.Contains(t, report, "✓ memory:SKIP_*")
	assert.Contains(t, report, "○ tests")
	assert.Contains(t, report, "1. typecheck: 3 type errors")

	assert.Empty(t, RenderReport(nil))
}

func TestService_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, newMockSessionStore(), newScriptedRunner())

	_, err := svc.Evaluate(ctx, nil)
	require.Error(t, err)
	_, err = svc.Evaluate(ctx, &EvaluateRequest{PhaseID: "plan"})
	require.Error(t, err)
	_, err = svc.Evaluate(ctx, &EvaluateRequest{SessionID: "sess_1"})
	require.Error(t, err)

	_, err = NewService(nil, nil, newScriptedRunner(), nil)
	require.Error(t, err)
	_, err = NewService(nil, newMockSessionStore(), nil, nil)
	require.Error(t, err)
}
