package template

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/sessiond/internal/condition"
	"github.com/fyrsmithlabs/sessiond/internal/session"
)

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"basic", "bugfix", "feature"}, Names())
}

func TestLoad(t *testing.T) {
	t.Run("every embedded template is valid", func(t *testing.T) {
		for _, name := range Names() {
			tmpl, err := Load(name)
			require.NoError(t, err, "template %s", name)
			assert.Equal(t, name, tmpl.Name)
			assert.NotEmpty(t, tmpl.Description)
			assert.NotEmpty(t, tmpl.Phases)
			assert.NotEmpty(t, tmpl.Plan.Outline)
		}
	})

	t.Run("every gate condition compiles", func(t *testing.T) {
		for _, name := range Names() {
			tmpl, err := Load(name)
			require.NoError(t, err)
			for _, phase := range tmpl.Phases {
				_, err := condition.Compile(phase.Condition)
				assert.NoError(t, err, "%s/%s: %q", name, phase.ID, phase.Condition)
			}
		}
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := Load("nonexistent")
		require.ErrorIs(t, err, ErrTemplateNotFound)
		assert.Contains(t, err.Error(), "basic", "error lists available templates")
	})

	t.Run("feature sets cooldown", func(t *testing.T) {
		tmpl, err := Load("feature")
		require.NoError(t, err)
		assert.Equal(t, 300*time.Second, time.Duration(tmpl.Gates.EnforceCooldown))
	})

	t.Run("basic has no cooldown", func(t *testing.T) {
		tmpl, err := Load("basic")
		require.NoError(t, err)
		assert.Zero(t, time.Duration(tmpl.Gates.EnforceCooldown))
	})
}

func TestTemplateValidate(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    Template
		wantErr string
	}{
		{"missing name", Template{Phases: []Phase{{ID: "a"}}}, "name is required"},
		{"no phases", Template{Name: "x"}, "no phases"},
		{"blank phase id", Template{Name: "x", Phases: []Phase{{}}}, "has no id"},
		{"duplicate phase", Template{Name: "x", Phases: []Phase{{ID: "a"}, {ID: "a"}}}, "duplicate phase"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tmpl.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("valid", func(t *testing.T) {
		tmpl := Template{Name: "x", Phases: []Phase{{ID: "a"}, {ID: "b"}}}
		assert.NoError(t, tmpl.Validate())
	})
}

func TestTemplatePhase(t *testing.T) {
	tmpl, err := Load("feature")
	require.NoError(t, err)

	phase := tmpl.Phase("validation")
	require.NotNil(t, phase)
	assert.True(t, phase.RunTests)

	assert.Nil(t, tmpl.Phase("missing"))
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := session.NewStore(session.Config{BasePath: t.TempDir()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return NewService(store, zaptest.NewLogger(t))
}

func TestInstantiate(t *testing.T) {
	ctx := context.Background()

	t.Run("seeds prompt, plan, and state", func(t *testing.T) {
		svc := newTestService(t)
		sess, tmpl, err := svc.Instantiate(ctx, "feature", "feat-1", t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "feat-1", sess.ID)
		assert.Equal(t, "feature", sess.Template)
		assert.Equal(t, "feature", tmpl.Name)

		art, err := svc.store.CurrentArtifact(ctx, sess.ID, session.ArtifactPlan)
		require.NoError(t, err)
		doc, err := session.DecodeDocument(art)
		require.NoError(t, err)
		assert.Contains(t, doc.Content, "# Plan: feature session")
		assert.Contains(t, doc.Content, "- [ ] Analyze requirements")

		prompt, err := svc.store.CurrentArtifact(ctx, sess.ID, session.ArtifactPrompt)
		require.NoError(t, err)
		assert.Equal(t, session.ArtifactPrompt, prompt.Type)

		state, err := svc.CurrentState(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "analysis", state.CurrentPhase)
		assert.Len(t, state.Phases, 3)
	})

	t.Run("empty name defaults to basic", func(t *testing.T) {
		svc := newTestService(t)
		sess, tmpl, err := svc.Instantiate(ctx, "", "", t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "basic", tmpl.Name)
		assert.NotEmpty(t, sess.ID, "session id generated")
	})

	t.Run("unknown template", func(t *testing.T) {
		svc := newTestService(t)
		_, _, err := svc.Instantiate(ctx, "bogus", "", t.TempDir())
		assert.ErrorIs(t, err, ErrTemplateNotFound)
	})

	t.Run("duplicate session id", func(t *testing.T) {
		svc := newTestService(t)
		_, _, err := svc.Instantiate(ctx, "basic", "dup", t.TempDir())
		require.NoError(t, err)
		_, _, err = svc.Instantiate(ctx, "basic", "dup", t.TempDir())
		assert.ErrorContains(t, err, "already exists")
	})
}
