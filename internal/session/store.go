package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	sessionFile = "session.json"
	historyFile = "history.json"

	dirPerm  = 0o700
	filePerm = 0o600
)

// DefaultHistoryMax bounds session history when the config does not.
const DefaultHistoryMax = 50

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrChainNotFound    = errors.New("evidence chain not found")
)

// Config holds store settings.
type Config struct {
	// BasePath is the directory sessions live under.
	BasePath string `koanf:"base_path"`
	// HistoryMax caps per-session history length. Oldest entries are
	// evicted first.
	HistoryMax int `koanf:"history_max"`
}

// Store is the file-based session store. It assumes one writer per session;
// callers serialize concurrent access externally.
type Store struct {
	basePath   string
	historyMax int
	logger     *zap.Logger
}

// NewStore creates the store root and returns a Store.
func NewStore(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("store base path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	historyMax := cfg.HistoryMax
	if historyMax <= 0 {
		historyMax = DefaultHistoryMax
	}
	if err := os.MkdirAll(cfg.BasePath, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &Store{
		basePath:   cfg.BasePath,
		historyMax: historyMax,
		logger:     logger,
	}, nil
}

// BasePath returns the store root directory.
func (s *Store) BasePath() string {
	return s.basePath
}

// CreateSession initializes a session directory and metadata record. An
// empty id generates one. Git context is captured best-effort; a project
// path outside any repository is not an error.
func (s *Store) CreateSession(_ context.Context, id, template, projectPath string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid session id: %w", err)
	}
	dir := s.sessionDir(id)
	if _, err := os.Stat(filepath.Join(dir, sessionFile)); err == nil {
		return nil, fmt.Errorf("session %s already exists", id)
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:          id,
		CreatedAt:   now,
		UpdatedAt:   now,
		Template:    template,
		ProjectPath: projectPath,
	}
	if git, err := captureGitInfo(projectPath); err == nil {
		sess.Git = git
	}

	if err := writeJSONFile(filepath.Join(dir, sessionFile), sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.logger.Info("created session",
		zap.String("session_id", id),
		zap.String("template", template))
	return sess, nil
}

// GetSession loads session metadata.
func (s *Store) GetSession(_ context.Context, id string) (*Session, error) {
	return s.loadSession(id)
}

// ListSessions returns metadata for every session under the store root,
// newest activity first. Unreadable entries are skipped.
func (s *Store) ListSessions(_ context.Context) ([]*Session, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read store root: %w", err)
	}
	sessions := make([]*Session, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sess, err := s.loadSession(entry.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable session",
				zap.String("session_id", entry.Name()),
				zap.Error(err))
			continue
		}
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// SaveDocument writes a prompt, plan, handoff or state artifact with a
// generated id.
func (s *Store) SaveDocument(_ context.Context, sessionID string, typ ArtifactType, doc Document) (*Artifact, error) {
	switch typ {
	case ArtifactPrompt, ArtifactPlan, ArtifactHandoff, ArtifactState:
	default:
		return nil, fmt.Errorf("type %q is not a document artifact", typ)
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	art := &Artifact{
		ID:        uuid.NewString(),
		Type:      typ,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
	path := filepath.Join(s.sessionDir(sessionID), string(typ), fmt.Sprintf("%s_%s.json", typ, art.ID))
	if err := s.commitArtifact(art, path, art); err != nil {
		return nil, err
	}
	return art, nil
}

// DecodeDocument unpacks a document payload from an artifact envelope.
func DecodeDocument(art *Artifact) (Document, error) {
	var doc Document
	if art == nil {
		return doc, errors.New("artifact is nil")
	}
	if err := json.Unmarshal(art.Payload, &doc); err != nil {
		return doc, fmt.Errorf("failed to decode %s payload: %w", art.Type, err)
	}
	return doc, nil
}

// CurrentArtifact returns the latest artifact of the given type, or
// ErrArtifactNotFound when none has been written.
func (s *Store) CurrentArtifact(_ context.Context, sessionID string, typ ArtifactType) (*Artifact, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown artifact type: %q", typ)
	}
	var art Artifact
	if err := readJSONFile(s.currentPath(sessionID, typ), &art); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no current %s", ErrArtifactNotFound, typ)
		}
		return nil, fmt.Errorf("failed to read current %s: %w", typ, err)
	}
	return &art, nil
}

// History returns the bounded session history, oldest first.
func (s *Store) History(_ context.Context, sessionID string) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := readJSONFile(filepath.Join(s.sessionDir(sessionID), historyFile), &entries)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return entries, nil
}

// commitArtifact runs the three-step artifact dance: write the record file,
// overwrite the type's current pointer, append to the bounded history. The
// session must already exist.
func (s *Store) commitArtifact(art *Artifact, path string, record any) error {
	if err := art.Validate(); err != nil {
		return err
	}
	if _, err := s.loadSession(art.SessionID); err != nil {
		return err
	}
	if err := writeJSONFile(path, record); err != nil {
		return fmt.Errorf("failed to write %s artifact: %w", art.Type, err)
	}
	if err := writeJSONFile(s.currentPath(art.SessionID, art.Type), art); err != nil {
		return fmt.Errorf("failed to update current %s pointer: %w", art.Type, err)
	}
	if err := s.appendHistory(art.SessionID, HistoryEntry{
		Type:      art.Type,
		ID:        art.ID,
		Timestamp: art.CreatedAt,
	}); err != nil {
		return err
	}
	s.touchSession(art.SessionID)
	return nil
}

func (s *Store) appendHistory(sessionID string, entry HistoryEntry) error {
	path := filepath.Join(s.sessionDir(sessionID), historyFile)
	var entries []HistoryEntry
	if err := readJSONFile(path, &entries); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read history: %w", err)
	}
	entries = append(entries, entry)
	if len(entries) > s.historyMax {
		entries = entries[len(entries)-s.historyMax:]
	}
	if err := writeJSONFile(path, entries); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

func (s *Store) touchSession(sessionID string) {
	sess, err := s.loadSession(sessionID)
	if err != nil {
		return
	}
	sess.UpdatedAt = time.Now().UTC()
	if err := writeJSONFile(filepath.Join(s.sessionDir(sessionID), sessionFile), sess); err != nil {
		s.logger.Warn("failed to touch session", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *Store) loadSession(id string) (*Session, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid session id: %w", err)
	}
	var sess Session
	err := readJSONFile(filepath.Join(s.sessionDir(id), sessionFile), &sess)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *Store) sessionDir(id string) string {
	return filepath.Join(s.basePath, id)
}

func (s *Store) currentPath(sessionID string, typ ArtifactType) string {
	return filepath.Join(s.sessionDir(sessionID), fmt.Sprintf("current_%s.json", typ))
}

// validateID keeps identifiers safe as path segments: letters, digits,
// underscore and hyphen only.
func validateID(id string) error {
	if id == "" {
		return errors.New("id is required")
	}
	for _, r := range id {
		ok := r >= 'a' && r <= 'z' ||
			r >= 'A' && r <= 'Z' ||
			r >= '0' && r <= '9' ||
			r == '_' || r == '-'
		if !ok {
			return fmt.Errorf("invalid id %q: only letters, digits, '_' and '-' are allowed", id)
		}
	}
	return nil
}

// writeJSONFile writes v as indented JSON through a temp file rename so a
// crash never leaves a half-written record behind.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
