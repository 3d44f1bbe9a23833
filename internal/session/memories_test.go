package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMemorySource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "completion.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestStore_LinkMemory(t *testing.T) {
	ctx := context.Background()

	newSession := func(t *testing.T) *Store {
		t.Helper()
		store := newTestStore(t, 10)
		_, err := store.CreateSession(ctx, "sess_1", "", "")
		require.NoError(t, err)
		return store
	}

	t.Run("keeps a caller-provided summary", func(t *testing.T) {
		store := newSession(t)
		src := writeMemorySource(t, `{"work_summary": "from source"}`)
		mem, err := store.LinkMemory(ctx, "sess_1", LinkedMemory{
			MemoryName: "auth_design",
			SourcePath: src,
			Summary:    "hand written",
		})
		require.NoError(t, err)
		assert.Equal(t, "hand written", mem.Summary)
	})

	t.Run("prefers work_summary from the source", func(t *testing.T) {
		store := newSession(t)
		src := writeMemorySource(t, `{"work_summary": "refactored the token cache"}`)
		mem, err := store.LinkMemory(ctx, "sess_1", LinkedMemory{
			MemoryName: "cache_notes",
			SourcePath: src,
		})
		require.NoError(t, err)
		assert.Equal(t, "refactored the token cache", mem.Summary)
	})

	t.Run("flags empty completion stubs", func(t *testing.T) {
		store := newSession(t)
		src := writeMemorySource(t, `{"agent": "coder", "files_created": [], "analysis_complete": false}`)
		mem, err := store.LinkMemory(ctx, "sess_1", LinkedMemory{
			MemoryName: "stub",
			SourcePath: src,
		})
		require.NoError(t, err)
		assert.Equal(t, "no substantive content recorded", mem.Summary)
	})

	t.Run("composes a summary from substantive fields", func(t *testing.T) {
		store := newSession(t)
		src := writeMemorySource(t, `{
			"agent": "coder",
			"files_created": ["a.go", "b.go"],
			"files_modified": ["c.go"],
			"next_steps": "wire the handler"
		}`)
		mem, err := store.LinkMemory(ctx, "sess_1", LinkedMemory{
			MemoryName: "impl_notes",
			SourcePath: src,
		})
		require.NoError(t, err)
		assert.Equal(t, "agent coder, 2 files created, 1 files modified, next: wire the handler", mem.Summary)
	})

	t.Run("non-JSON sources get no summary", func(t *testing.T) {
		store := newSession(t)
		src := writeMemorySource(t, "plain text notes")
		mem, err := store.LinkMemory(ctx, "sess_1", LinkedMemory{
			MemoryName: "notes",
			SourcePath: src,
		})
		require.NoError(t, err)
		assert.Empty(t, mem.Summary)
	})

	t.Run("writes one file per memory named by identifier", func(t *testing.T) {
		store := newSession(t)
		src := writeMemorySource(t, `{"work_summary": "x"}`)
		_, err := store.LinkMemory(ctx, "sess_1", LinkedMemory{MemoryName: "auth_design", SourcePath: src})
		require.NoError(t, err)

		_, statErr := os.Stat(filepath.Join(store.BasePath(), "sess_1", "memories", "auth_design.json"))
		assert.NoError(t, statErr)
	})

	t.Run("rejects path-hostile names", func(t *testing.T) {
		store := newSession(t)
		_, err := store.LinkMemory(ctx, "sess_1", LinkedMemory{MemoryName: "../sneaky", SourcePath: "/tmp/x"})
		require.Error(t, err)
	})

	t.Run("requires a source path", func(t *testing.T) {
		store := newSession(t)
		_, err := store.LinkMemory(ctx, "sess_1", LinkedMemory{MemoryName: "m"})
		require.Error(t, err)
	})
}

func TestStore_ListMemories(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 10)
	_, err := store.CreateSession(ctx, "sess_1", "", "")
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Names chosen so lexical order disagrees with link order.
	for i, name := range []string{"zeta", "alpha", "mid"} {
		src := writeMemorySource(t, `{"work_summary": "x"}`)
		_, err := store.LinkMemory(ctx, "sess_1", LinkedMemory{
			MemoryName: name,
			SourcePath: src,
			LinkedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	t.Run("sorted chronologically by linked_at", func(t *testing.T) {
		memories, err := store.ListMemories(ctx, "sess_1")
		require.NoError(t, err)
		require.Len(t, memories, 3)
		assert.Equal(t, "zeta", memories[0].MemoryName)
		assert.Equal(t, "alpha", memories[1].MemoryName)
		assert.Equal(t, "mid", memories[2].MemoryName)
	})

	t.Run("skips malformed records", func(t *testing.T) {
		bad := filepath.Join(store.BasePath(), "sess_1", "memories", "broken.json")
		require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))

		memories, err := store.ListMemories(ctx, "sess_1")
		require.NoError(t, err)
		assert.Len(t, memories, 3)
	})

	t.Run("no memories directory yields empty list", func(t *testing.T) {
		_, err := store.CreateSession(ctx, "sess_2", "", "")
		require.NoError(t, err)
		memories, err := store.ListMemories(ctx, "sess_2")
		require.NoError(t, err)
		assert.Empty(t, memories)
	})
}
