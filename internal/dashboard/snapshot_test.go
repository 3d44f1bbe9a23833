package dashboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/sessiond/internal/evidence"
	"github.com/fyrsmithlabs/sessiond/internal/gate"
)

func TestCollect(t *testing.T) {
	ctx := context.Background()

	t.Run("missing session", func(t *testing.T) {
		store := newTestStore(t)
		_, err := Collect(ctx, store, "ghost")
		assert.Error(t, err)
	})

	t.Run("empty session", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.CreateSession(ctx, "empty", "basic", t.TempDir())
		require.NoError(t, err)

		snap, err := Collect(ctx, store, "empty")
		require.NoError(t, err)
		assert.Empty(t, snap.Chains)
		assert.Empty(t, snap.Phases)
		assert.Zero(t, snap.GatePassRate)
		assert.Zero(t, snap.MeanCoverage)
	})

	t.Run("populated session", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.CreateSession(ctx, "full", "feature", t.TempDir())
		require.NoError(t, err)

		chain, err := evidence.NewBuilder("full").
			SetRequirement(evidence.Requirement{
				TaskID:             "add-login",
				AcceptanceCriteria: []string{"ac1", "ac2"},
			}).
			SetAnalysis(evidence.Analysis{AgentID: "a1", TaskID: "add-login", EntryPoints: []string{"Login"}}).
			Build()
		require.NoError(t, err)
		require.NoError(t, store.SaveChain(ctx, chain))

		require.NoError(t, store.AppendGateResult(ctx, "full", "analysis", gate.GateResult{
			PhaseID: "analysis",
			Passed:  true,
			Results: []gate.CheckResult{{Name: "memory:X_*", Passed: true}},
		}))
		require.NoError(t, store.AppendGateResult(ctx, "full", "validation", gate.GateResult{
			PhaseID:  "validation",
			Passed:   false,
			Blockers: []string{"tests: 1 failing"},
			Results:  []gate.CheckResult{{Name: "tests", Passed: false}},
		}))

		snap, err := Collect(ctx, store, "full")
		require.NoError(t, err)

		require.Len(t, snap.Chains, 1)
		assert.Equal(t, "add-login", snap.Chains[0].Task)
		assert.True(t, snap.Chains[0].AnalysisLinked)
		assert.False(t, snap.Chains[0].ValidLinked)
		assert.Equal(t, float64(snap.Chains[0].CoveragePercent), snap.MeanCoverage)

		require.Len(t, snap.Phases, 2)
		byPhase := make(map[string]PhaseSummary, 2)
		for _, p := range snap.Phases {
			byPhase[p.PhaseID] = p
		}
		assert.True(t, byPhase["analysis"].Passed)
		assert.False(t, byPhase["validation"].Passed)
		assert.Equal(t, 1, byPhase["validation"].Blockers)
		assert.InDelta(t, 50.0, snap.GatePassRate, 0.01)

		assert.Equal(t, 1, snap.Status.Chains)
	})
}
