package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const gateResultsDir = "gate_result"

// AppendGateResult appends one gate result to the phase's append-only
// history file, refreshes the gate_result current pointer, and records the
// write in session history. The result is stored as opaque JSON so the
// store stays decoupled from the evaluator's result type.
func (s *Store) AppendGateResult(_ context.Context, sessionID, phaseID string, result any) error {
	if err := validateID(phaseID); err != nil {
		return fmt.Errorf("invalid phase id: %w", err)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal gate result: %w", err)
	}

	now := time.Now().UTC()
	art := &Artifact{
		ID:        phaseID,
		Type:      ArtifactGateResult,
		SessionID: sessionID,
		CreatedAt: now,
		Payload:   payload,
	}
	if err := art.Validate(); err != nil {
		return err
	}
	if _, err := s.loadSession(sessionID); err != nil {
		return err
	}

	path := s.gatePath(sessionID, phaseID)
	var results []json.RawMessage
	if err := readJSONFile(path, &results); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read gate history for phase %s: %w", phaseID, err)
	}
	results = append(results, payload)

	if err := writeJSONFile(path, results); err != nil {
		return fmt.Errorf("failed to write gate history: %w", err)
	}
	if err := writeJSONFile(s.currentPath(sessionID, ArtifactGateResult), art); err != nil {
		return fmt.Errorf("failed to update current gate result: %w", err)
	}
	if err := s.appendHistory(sessionID, HistoryEntry{
		Type:      ArtifactGateResult,
		ID:        phaseID,
		Timestamp: now,
	}); err != nil {
		return err
	}
	s.touchSession(sessionID)
	return nil
}

// GateHistory returns the raw gate results recorded for one phase, oldest
// first. A phase that has never been checked yields an empty history.
func (s *Store) GateHistory(_ context.Context, sessionID, phaseID string) ([]json.RawMessage, error) {
	if err := validateID(phaseID); err != nil {
		return nil, fmt.Errorf("invalid phase id: %w", err)
	}
	var results []json.RawMessage
	err := readJSONFile(s.gatePath(sessionID, phaseID), &results)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read gate history for phase %s: %w", phaseID, err)
	}
	return results, nil
}

// LatestGateResult returns the phase's newest gate result, or
// ErrArtifactNotFound when the phase has never been checked.
func (s *Store) LatestGateResult(ctx context.Context, sessionID, phaseID string) (json.RawMessage, error) {
	results, err := s.GateHistory(ctx, sessionID, phaseID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no gate result for phase %s", ErrArtifactNotFound, phaseID)
	}
	return results[len(results)-1], nil
}

// GatePhases lists the phase ids that have recorded gate results.
func (s *Store) GatePhases(_ context.Context, sessionID string) ([]string, error) {
	dir := filepath.Join(s.sessionDir(sessionID), gateResultsDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read gate results directory: %w", err)
	}
	phases := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		phases = append(phases, name[:len(name)-len(".json")])
	}
	return phases, nil
}

func (s *Store) gatePath(sessionID, phaseID string) string {
	return filepath.Join(s.sessionDir(sessionID), gateResultsDir, phaseID+".json")
}
