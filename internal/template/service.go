package template

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiond/internal/session"
)

// Service instantiates templates into new sessions.
type Service struct {
	store  *session.Store
	logger *zap.Logger
}

// NewService creates a template service.
func NewService(store *session.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger.Named("template")}
}

// PhaseState is the recorded workflow position of a session, stored as a
// state artifact so gate checks and the dashboard can read it back.
type PhaseState struct {
	Template     string  `json:"template"`
	Phases       []Phase `json:"phases"`
	CurrentPhase string  `json:"current_phase"`
	StartedAt    string  `json:"started_at"`
}

// Instantiate creates a session from the named template and seeds its
// initial prompt, plan, and state artifacts. An empty template name uses
// "basic".
func (s *Service) Instantiate(ctx context.Context, name, sessionID, projectPath string) (*session.Session, *Template, error) {
	if name == "" {
		name = "basic"
	}
	tmpl, err := Load(name)
	if err != nil {
		return nil, nil, err
	}

	sess, err := s.store.CreateSession(ctx, sessionID, tmpl.Name, projectPath)
	if err != nil {
		return nil, nil, err
	}

	if prompt := strings.TrimSpace(tmpl.Prompt); prompt != "" {
		if _, err := s.store.SaveDocument(ctx, sess.ID, session.ArtifactPrompt, session.Document{
			Content:  prompt,
			Metadata: map[string]string{"template": tmpl.Name},
		}); err != nil {
			return nil, nil, fmt.Errorf("failed to seed prompt: %w", err)
		}
	}

	if _, err := s.store.SaveDocument(ctx, sess.ID, session.ArtifactPlan, session.Document{
		Content:  tmpl.PlanContent(),
		Metadata: map[string]string{"template": tmpl.Name},
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to seed plan: %w", err)
	}

	state := PhaseState{
		Template:     tmpl.Name,
		Phases:       tmpl.Phases,
		CurrentPhase: tmpl.Phases[0].ID,
		StartedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode phase state: %w", err)
	}
	if _, err := s.store.SaveDocument(ctx, sess.ID, session.ArtifactState, session.Document{
		Content:  string(payload),
		Metadata: map[string]string{"template": tmpl.Name, "kind": "phase_state"},
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to seed state: %w", err)
	}

	s.logger.Info("instantiated session template",
		zap.String("session_id", sess.ID),
		zap.String("template", tmpl.Name),
		zap.Int("phases", len(tmpl.Phases)))
	return sess, tmpl, nil
}

// CurrentState reads the latest phase state for a session.
func (s *Service) CurrentState(ctx context.Context, sessionID string) (*PhaseState, error) {
	art, err := s.store.CurrentArtifact(ctx, sessionID, session.ArtifactState)
	if err != nil {
		return nil, err
	}
	doc, err := session.DecodeDocument(art)
	if err != nil {
		return nil, err
	}
	var state PhaseState
	if err := json.Unmarshal([]byte(doc.Content), &state); err != nil {
		return nil, fmt.Errorf("failed to decode phase state: %w", err)
	}
	return &state, nil
}
