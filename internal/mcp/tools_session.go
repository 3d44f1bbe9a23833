package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiond/internal/gate"
	"github.com/fyrsmithlabs/sessiond/internal/session"
)

// ===== SESSION TOOLS =====

type sessionStartInput struct {
	SessionID   string `json:"session_id,omitempty" jsonschema:"Session identifier (generated if omitted)"`
	Template    string `json:"template,omitempty" jsonschema:"Session template name (basic feature or bugfix; default basic)"`
	ProjectPath string `json:"project_path,omitempty" jsonschema:"Project directory for git context capture"`
}

type sessionStartOutput struct {
	SessionID string           `json:"session_id" jsonschema:"Session identifier"`
	Template  string           `json:"template" jsonschema:"Template the session was created from"`
	Created   time.Time        `json:"created" jsonschema:"Creation timestamp"`
	Git       *session.GitInfo `json:"git,omitempty" jsonschema:"Repository context when the project path is inside a git repo"`
}

type sessionStatusInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
}

type phaseVerdict struct {
	PhaseID string `json:"phase_id" jsonschema:"Gate phase identifier"`
	Passed  bool   `json:"passed" jsonschema:"Latest verdict for the phase"`
}

type sessionStatusOutput struct {
	SessionID      string            `json:"session_id" jsonschema:"Session identifier"`
	Template       string            `json:"template,omitempty" jsonschema:"Template name"`
	ArtifactCounts map[string]int    `json:"artifact_counts" jsonschema:"Artifact counts per type"`
	Current        map[string]string `json:"current" jsonschema:"Current artifact id per type"`
	HistoryLen     int               `json:"history_len" jsonschema:"History entries recorded"`
	Memories       int               `json:"memories" jsonschema:"Linked memories"`
	Chains         int               `json:"chains" jsonschema:"Evidence chains"`
	Gates          []phaseVerdict    `json:"gates,omitempty" jsonschema:"Latest gate verdict per phase"`
}

type saveDocumentInput struct {
	SessionID string            `json:"session_id" jsonschema:"required,Session identifier"`
	Content   string            `json:"content" jsonschema:"required,Document content"`
	Metadata  map[string]string `json:"metadata,omitempty" jsonschema:"Additional metadata"`
}

type saveDocumentOutput struct {
	ArtifactID string `json:"artifact_id" jsonschema:"Stored artifact identifier"`
	Version    int    `json:"version" jsonschema:"Count of artifacts of this type after the save"`
	Scrubbed   int    `json:"scrubbed" jsonschema:"Number of secrets redacted before persisting"`
}

type linkMemoryInput struct {
	SessionID    string                `json:"session_id" jsonschema:"required,Session identifier"`
	MemoryName   string                `json:"memory_name" jsonschema:"required,Memory identifier"`
	SourcePath   string                `json:"source_path" jsonschema:"required,Path to the memory source file"`
	Summary      string                `json:"summary,omitempty" jsonschema:"Summary (lifted from the source file when omitted)"`
	ForAgents    []string              `json:"for_agents,omitempty" jsonschema:"Agents the memory is intended for"`
	Traceability *session.Traceability `json:"traceability,omitempty" jsonschema:"Traceability data carried by the memory"`
}

type linkMemoryOutput struct {
	Linked  bool   `json:"linked" jsonschema:"Whether the memory was linked"`
	Summary string `json:"summary" jsonschema:"Stored summary"`
}

func (s *Server) registerSessionTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_start",
		Description: "Start a new coordination session from a template",
	}, instrumented(s, "session_start", s.handleSessionStart))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_status",
		Description: "Summarize a session: artifacts, current pointers, gates",
	}, instrumented(s, "session_status", s.handleSessionStatus))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "save_prompt",
		Description: "Save a prompt artifact (content is scrubbed for secrets)",
	}, instrumented(s, "save_prompt", s.saveDocumentHandler(session.ArtifactPrompt)))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "save_plan",
		Description: "Save a plan artifact (content is scrubbed for secrets)",
	}, instrumented(s, "save_plan", s.saveDocumentHandler(session.ArtifactPlan)))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "save_handoff",
		Description: "Save a handoff artifact (content is scrubbed for secrets)",
	}, instrumented(s, "save_handoff", s.saveDocumentHandler(session.ArtifactHandoff)))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "link_memory",
		Description: "Link an external memory file into the session",
	}, instrumented(s, "link_memory", s.handleLinkMemory))
}

// instrumented wraps a tool handler with invocation metrics.
func instrumented[In, Out any](s *Server, name string, handler func(context.Context, In) (*mcp.CallToolResult, Out, error)) func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		result, out, err := handler(ctx, args)
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		return result, out, err
	}
}

func (s *Server) handleSessionStart(ctx context.Context, args sessionStartInput) (*mcp.CallToolResult, sessionStartOutput, error) {
	sess, tmpl, err := s.templates.Instantiate(ctx, args.Template, args.SessionID, args.ProjectPath)
	if err != nil {
		return nil, sessionStartOutput{}, err
	}

	out := sessionStartOutput{
		SessionID: sess.ID,
		Template:  tmpl.Name,
		Created:   sess.CreatedAt,
		Git:       sess.Git,
	}
	return textResult(fmt.Sprintf("Session started: %s (template %s)", sess.ID, tmpl.Name)), out, nil
}

func (s *Server) handleSessionStatus(ctx context.Context, args sessionStatusInput) (*mcp.CallToolResult, sessionStatusOutput, error) {
	status, err := s.store.Status(ctx, args.SessionID)
	if err != nil {
		return nil, sessionStatusOutput{}, err
	}

	out := sessionStatusOutput{
		SessionID:      status.Session.ID,
		Template:       status.Session.Template,
		ArtifactCounts: make(map[string]int, len(status.ArtifactCounts)),
		Current:        make(map[string]string, len(status.Current)),
		HistoryLen:     status.HistoryLen,
		Memories:       status.Memories,
		Chains:         status.Chains,
	}
	for typ, count := range status.ArtifactCounts {
		out.ArtifactCounts[string(typ)] = count
	}
	for typ, id := range status.Current {
		out.Current[string(typ)] = id
	}

	phases, err := s.store.GatePhases(ctx, args.SessionID)
	if err == nil {
		for _, phase := range phases {
			raw, err := s.store.LatestGateResult(ctx, args.SessionID, phase)
			if err != nil {
				continue
			}
			var result gate.GateResult
			if err := json.Unmarshal(raw, &result); err != nil {
				continue
			}
			out.Gates = append(out.Gates, phaseVerdict{PhaseID: phase, Passed: result.Passed})
		}
	}

	return textResult(fmt.Sprintf("Session %s: %d history entries, %d chains", out.SessionID, out.HistoryLen, out.Chains)), out, nil
}

// saveDocumentHandler builds the shared handler for save_prompt, save_plan
// and save_handoff. Content passes through the scrubber before it is
// persisted.
func (s *Server) saveDocumentHandler(typ session.ArtifactType) func(context.Context, saveDocumentInput) (*mcp.CallToolResult, saveDocumentOutput, error) {
	return func(ctx context.Context, args saveDocumentInput) (*mcp.CallToolResult, saveDocumentOutput, error) {
		scrubbed, err := s.scrubber.Scrub(args.Content)
		if err != nil {
			return nil, saveDocumentOutput{}, fmt.Errorf("scrub failed: %w", err)
		}
		if scrubbed.HasFindings() {
			s.logger.Warn("secrets redacted from document",
				zap.String("session_id", args.SessionID),
				zap.String("type", string(typ)),
				zap.Int("findings", scrubbed.TotalFindings))
		}

		art, err := s.store.SaveDocument(ctx, args.SessionID, typ, session.Document{
			Content:  scrubbed.Scrubbed,
			Metadata: args.Metadata,
		})
		if err != nil {
			return nil, saveDocumentOutput{}, err
		}

		version := 1
		if status, err := s.store.Status(ctx, args.SessionID); err == nil {
			version = status.ArtifactCounts[typ]
		}

		out := saveDocumentOutput{
			ArtifactID: art.ID,
			Version:    version,
			Scrubbed:   scrubbed.TotalFindings,
		}
		return textResult(fmt.Sprintf("Saved %s %s (version %d)", typ, art.ID, version)), out, nil
	}
}

func (s *Server) handleLinkMemory(ctx context.Context, args linkMemoryInput) (*mcp.CallToolResult, linkMemoryOutput, error) {
	mem, err := s.store.LinkMemory(ctx, args.SessionID, session.LinkedMemory{
		MemoryName:   args.MemoryName,
		SourcePath:   args.SourcePath,
		Summary:      args.Summary,
		ForAgents:    args.ForAgents,
		Traceability: args.Traceability,
	})
	if err != nil {
		return nil, linkMemoryOutput{}, err
	}

	out := linkMemoryOutput{Linked: true, Summary: mem.Summary}
	return textResult(fmt.Sprintf("Linked memory %s", mem.MemoryName)), out, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}
