package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/sessiond/internal/evidence"
)

func TestStore_SaveChain(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 10)
	_, err := store.CreateSession(ctx, "sess_1", "", "")
	require.NoError(t, err)

	t.Run("roundtrips with recomputed status", func(t *testing.T) {
		chain := &evidence.Chain{
			ID:        "task_auth",
			SessionID: "sess_1",
			CreatedAt: time.Now().UTC(),
			Requirement: evidence.Requirement{
				TaskID:             "task_auth",
				Description:        "add token auth",
				AcceptanceCriteria: []string{"rejects expired tokens", "accepts valid tokens"},
			},
			Analysis: &evidence.Analysis{AgentID: "analyst", TaskID: "task_auth"},
			Validation: &evidence.Validation{
				AgentID:     "validator",
				TaskID:      "task_auth",
				TestsPassed: 4,
				LinksTo: &evidence.LinksTo{
					Verification: map[string]bool{"rejects expired tokens": true},
				},
			},
			// A stale status on the way in must not survive the save.
			Status: evidence.ChainStatus{CoveragePercent: 99},
		}
		require.NoError(t, store.SaveChain(ctx, chain))
		assert.Equal(t, 50, chain.Status.CoveragePercent)

		loaded, err := store.GetChain(ctx, "sess_1", "task_auth")
		require.NoError(t, err)
		assert.Equal(t, 50, loaded.Status.CoveragePercent)
		assert.Equal(t, 1, loaded.Status.CriteriaVerified)
		assert.Equal(t, 2, loaded.Status.CriteriaTotal)
		assert.True(t, loaded.Status.AnalysisLinked)
		assert.False(t, loaded.Status.ImplementationLinked)
		require.NotNil(t, loaded.Validation)
		assert.Equal(t, 4, loaded.Validation.TestsPassed)
	})

	t.Run("missing chain is ErrChainNotFound", func(t *testing.T) {
		_, err := store.GetChain(ctx, "sess_1", "ghost")
		assert.ErrorIs(t, err, ErrChainNotFound)
	})

	t.Run("requires a valid chain id", func(t *testing.T) {
		err := store.SaveChain(ctx, &evidence.Chain{ID: "../up", SessionID: "sess_1"})
		require.Error(t, err)
	})

	t.Run("requires a session id", func(t *testing.T) {
		err := store.SaveChain(ctx, &evidence.Chain{ID: "c1"})
		require.Error(t, err)
	})
}

func TestStore_ListChains(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 10)
	_, err := store.CreateSession(ctx, "sess_1", "", "")
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"task_b", "task_a"} {
		chain := &evidence.Chain{
			ID:          id,
			SessionID:   "sess_1",
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
			Requirement: evidence.Requirement{TaskID: id},
		}
		require.NoError(t, store.SaveChain(ctx, chain))
	}

	t.Run("ordered by creation time", func(t *testing.T) {
		chains, err := store.ListChains(ctx, "sess_1")
		require.NoError(t, err)
		require.Len(t, chains, 2)
		assert.Equal(t, "task_b", chains[0].ID)
		assert.Equal(t, "task_a", chains[1].ID)
	})

	t.Run("skips malformed chain files", func(t *testing.T) {
		bad := filepath.Join(store.BasePath(), "sess_1", "evidence", "corrupt.json")
		require.NoError(t, os.WriteFile(bad, []byte("[1,2"), 0o600))

		chains, err := store.ListChains(ctx, "sess_1")
		require.NoError(t, err)
		assert.Len(t, chains, 2)
	})

	t.Run("no chains yields empty list", func(t *testing.T) {
		_, err := store.CreateSession(ctx, "sess_2", "", "")
		require.NoError(t, err)
		chains, err := store.ListChains(ctx, "sess_2")
		require.NoError(t, err)
		assert.Empty(t, chains)
	})
}
