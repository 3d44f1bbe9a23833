package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Status summarizes a session: artifact counts per type, current pointer
// ids, history length and chain/memory counts.
func (s *Store) Status(ctx context.Context, sessionID string) (*Status, error) {
	sess, err := s.loadSession(sessionID)
	if err != nil {
		return nil, err
	}

	status := &Status{
		Session:        *sess,
		ArtifactCounts: make(map[ArtifactType]int),
		Current:        make(map[ArtifactType]string),
	}

	for _, typ := range []ArtifactType{ArtifactPrompt, ArtifactPlan, ArtifactHandoff, ArtifactState} {
		status.ArtifactCounts[typ] = s.countFiles(sessionID, string(typ))
	}
	status.ArtifactCounts[ArtifactMemoryLink] = s.countFiles(sessionID, memoriesDir)
	status.ArtifactCounts[ArtifactEvidence] = s.countFiles(sessionID, evidenceSubdir)
	status.ArtifactCounts[ArtifactGateResult] = s.countGateResults(ctx, sessionID)

	for _, typ := range []ArtifactType{
		ArtifactPrompt, ArtifactPlan, ArtifactHandoff, ArtifactState,
		ArtifactMemoryLink, ArtifactGateResult, ArtifactEvidence,
	} {
		if art, err := s.CurrentArtifact(ctx, sessionID, typ); err == nil {
			status.Current[typ] = art.ID
		}
	}

	history, err := s.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	status.HistoryLen = len(history)
	status.Memories = status.ArtifactCounts[ArtifactMemoryLink]
	status.Chains = status.ArtifactCounts[ArtifactEvidence]
	return status, nil
}

func (s *Store) countFiles(sessionID, subdir string) int {
	entries, err := os.ReadDir(filepath.Join(s.sessionDir(sessionID), subdir))
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			count++
		}
	}
	return count
}

// countGateResults sums every phase's history length, not just the number
// of phase files.
func (s *Store) countGateResults(ctx context.Context, sessionID string) int {
	phases, err := s.GatePhases(ctx, sessionID)
	if err != nil {
		return 0
	}
	total := 0
	for _, phase := range phases {
		var results []json.RawMessage
		if err := readJSONFile(s.gatePath(sessionID, phase), &results); err != nil {
			continue
		}
		total += len(results)
	}
	return total
}
