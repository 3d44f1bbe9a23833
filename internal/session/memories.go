package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const memoriesDir = "memories"

// LinkMemory stores one linked-memory record, one file per memory named by
// its identifier. When no summary is supplied, one is lifted from the source
// file if it is a JSON record with substantive fields.
func (s *Store) LinkMemory(_ context.Context, sessionID string, mem LinkedMemory) (*LinkedMemory, error) {
	if err := validateID(mem.MemoryName); err != nil {
		return nil, fmt.Errorf("invalid memory name: %w", err)
	}
	if mem.SourcePath == "" {
		return nil, errors.New("memory source_path is required")
	}
	if mem.LinkedAt.IsZero() {
		mem.LinkedAt = time.Now().UTC()
	}
	if mem.Summary == "" {
		mem.Summary = summarizeSource(mem.SourcePath)
	}

	payload, err := json.Marshal(mem)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal memory link: %w", err)
	}
	art := &Artifact{
		ID:        mem.MemoryName,
		Type:      ArtifactMemoryLink,
		SessionID: sessionID,
		CreatedAt: mem.LinkedAt,
		Payload:   payload,
	}
	path := filepath.Join(s.sessionDir(sessionID), memoriesDir, mem.MemoryName+".json")
	if err := s.commitArtifact(art, path, mem); err != nil {
		return nil, err
	}
	s.logger.Info("linked memory",
		zap.String("session_id", sessionID),
		zap.String("memory", mem.MemoryName))
	return &mem, nil
}

// MemoryNames returns the linked-memory identifiers present on disk,
// sorted. Unlike ListMemories it is filename-based, so records that fail
// to parse still appear.
func (s *Store) MemoryNames(_ context.Context, sessionID string) ([]string, error) {
	dir := filepath.Join(s.sessionDir(sessionID), memoriesDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read memories directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// ListMemories returns the session's linked memories sorted chronologically
// by linked_at, not by filesystem order. Malformed records are skipped, not
// fatal.
func (s *Store) ListMemories(_ context.Context, sessionID string) ([]LinkedMemory, error) {
	dir := filepath.Join(s.sessionDir(sessionID), memoriesDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read memories directory: %w", err)
	}

	memories := make([]LinkedMemory, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var mem LinkedMemory
		if err := readJSONFile(filepath.Join(dir, entry.Name()), &mem); err != nil {
			s.logger.Warn("skipping malformed memory record",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		if mem.MemoryName == "" {
			s.logger.Warn("skipping memory record without a name",
				zap.String("file", entry.Name()))
			continue
		}
		memories = append(memories, mem)
	}
	sort.Slice(memories, func(i, j int) bool {
		return memories[i].LinkedAt.Before(memories[j].LinkedAt)
	})
	return memories, nil
}

// meaningfulMemoryFields mark a memory source as carrying real work output
// rather than an empty completion stub.
var meaningfulMemoryFields = []string{
	"files_created",
	"files_modified",
	"key_outputs",
	"patterns_discovered",
	"analysis_complete",
}

// summarizeSource lifts a short summary out of a JSON memory source file.
// Returns "" when the file is unreadable or not JSON; a missing summary is
// normal, never an error.
func summarizeSource(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return ""
	}

	if ws, ok := record["work_summary"].(string); ok && ws != "" {
		return ws
	}

	meaningful := false
	for _, field := range meaningfulMemoryFields {
		if hasContent(record[field]) {
			meaningful = true
			break
		}
	}
	if !meaningful {
		return "no substantive content recorded"
	}

	var parts []string
	if agent, ok := record["agent"].(string); ok && agent != "" {
		parts = append(parts, "agent "+agent)
	}
	if n := listLen(record["files_created"]); n > 0 {
		parts = append(parts, fmt.Sprintf("%d files created", n))
	}
	if n := listLen(record["files_modified"]); n > 0 {
		parts = append(parts, fmt.Sprintf("%d files modified", n))
	}
	if n := listLen(record["key_outputs"]); n > 0 {
		parts = append(parts, fmt.Sprintf("%d key outputs", n))
	}
	if next, ok := record["next_steps"].(string); ok && next != "" {
		parts = append(parts, "next: "+next)
	}
	return strings.Join(parts, ", ")
}

func hasContent(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

func listLen(v any) int {
	list, ok := v.([]any)
	if !ok {
		return 0
	}
	return len(list)
}
