// Package session implements the durable, file-based session store: tagged
// artifact records with per-type current pointers, bounded history, linked
// memories, and evidence chain persistence. One local process owns a session
// at a time; callers serialize access externally.
package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// ArtifactType discriminates the artifact variants the store accepts.
type ArtifactType string

const (
	ArtifactPrompt     ArtifactType = "prompt"
	ArtifactPlan       ArtifactType = "plan"
	ArtifactHandoff    ArtifactType = "handoff"
	ArtifactState      ArtifactType = "state"
	ArtifactMemoryLink ArtifactType = "memory_link"
	ArtifactGateResult ArtifactType = "gate_result"
	ArtifactEvidence   ArtifactType = "evidence"
)

// Valid reports whether t names a known artifact variant.
func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactPrompt, ArtifactPlan, ArtifactHandoff, ArtifactState,
		ArtifactMemoryLink, ArtifactGateResult, ArtifactEvidence:
		return true
	default:
		return false
	}
}

// Artifact is the tagged envelope every stored record shares. The Type
// discriminator drives per-variant payload validation; unknown types are
// rejected explicitly rather than duck-typed.
type Artifact struct {
	ID        string          `json:"id"`
	Type      ArtifactType    `json:"type"`
	SessionID string          `json:"session_id"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the envelope and the payload against the variant's schema.
func (a *Artifact) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("artifact id is required")
	}
	if a.SessionID == "" {
		return fmt.Errorf("artifact session id is required")
	}
	return validatePayload(a.Type, a.Payload)
}

func validatePayload(typ ArtifactType, payload json.RawMessage) error {
	switch typ {
	case ArtifactPrompt, ArtifactPlan, ArtifactHandoff, ArtifactState:
		var doc Document
		if err := json.Unmarshal(payload, &doc); err != nil {
			return fmt.Errorf("invalid %s payload: %w", typ, err)
		}
		if doc.Content == "" {
			return fmt.Errorf("%s artifact requires content", typ)
		}
	case ArtifactMemoryLink:
		var mem LinkedMemory
		if err := json.Unmarshal(payload, &mem); err != nil {
			return fmt.Errorf("invalid memory link payload: %w", err)
		}
		if mem.MemoryName == "" {
			return fmt.Errorf("memory link requires memory_name")
		}
		if mem.SourcePath == "" {
			return fmt.Errorf("memory link requires source_path")
		}
	case ArtifactGateResult:
		var probe struct {
			PhaseID string `json:"phase_id"`
		}
		if err := json.Unmarshal(payload, &probe); err != nil {
			return fmt.Errorf("invalid gate result payload: %w", err)
		}
		if probe.PhaseID == "" {
			return fmt.Errorf("gate result requires phase_id")
		}
	case ArtifactEvidence:
		var probe struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(payload, &probe); err != nil {
			return fmt.Errorf("invalid evidence payload: %w", err)
		}
		if probe.ID == "" {
			return fmt.Errorf("evidence chain requires id")
		}
	default:
		return fmt.Errorf("unknown artifact type: %q", typ)
	}
	return nil
}

// Document is the payload shape shared by prompt, plan, handoff and state
// artifacts.
type Document struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// HistoryEntry is one line of the bounded, chronological session history.
type HistoryEntry struct {
	Type      ArtifactType `json:"type"`
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
}

// Traceability carries the analysis metadata the gate traceability checks
// scan linked memories for.
type Traceability struct {
	AnalyzedSymbols []string          `json:"analyzed_symbols,omitempty"`
	EntryPoints     []string          `json:"entry_points,omitempty"`
	DataFlowMap     map[string]string `json:"data_flow_map,omitempty"`
}

// LinkedMemory references an external knowledge artifact. One file per
// memory, named by MemoryName.
type LinkedMemory struct {
	MemoryName   string        `json:"memory_name"`
	LinkedAt     time.Time     `json:"linked_at"`
	SourcePath   string        `json:"source_path"`
	Summary      string        `json:"summary,omitempty"`
	ForAgents    []string      `json:"for_agents,omitempty"`
	Traceability *Traceability `json:"traceability_data,omitempty"`
}

// GitInfo is best-effort repository context captured at session start.
type GitInfo struct {
	Branch      string    `json:"branch"`
	Commit      string    `json:"commit"`
	CommitTime  time.Time `json:"commit_time"`
	CommitCount int       `json:"commit_count"`
}

// Session is the per-session metadata record stored at the session root.
type Session struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Template    string    `json:"template,omitempty"`
	ProjectPath string    `json:"project_path,omitempty"`
	Git         *GitInfo  `json:"git,omitempty"`
}

// Status summarizes a session for status surfaces (CLI, MCP, dashboard).
type Status struct {
	Session        Session                 `json:"session"`
	ArtifactCounts map[ArtifactType]int    `json:"artifact_counts"`
	Current        map[ArtifactType]string `json:"current"`
	HistoryLen     int                     `json:"history_len"`
	Memories       int                     `json:"memories"`
	Chains         int                     `json:"chains"`
}
