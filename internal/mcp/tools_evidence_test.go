package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEvidenceSession(t *testing.T, server *Server) string {
	t.Helper()
	_, out, err := server.handleSessionStart(context.Background(), sessionStartInput{
		SessionID: "ev", Template: "basic",
	})
	require.NoError(t, err)
	return out.SessionID
}

func TestEvidenceTools_FullChain(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t)
	sessionID := startEvidenceSession(t, server)

	_, analysis, err := server.handleRecordAnalysis(ctx, recordAnalysisInput{
		SessionID:          sessionID,
		TaskID:             "add-export",
		AgentID:            "analyzer",
		Description:        "Add CSV export",
		AcceptanceCriteria: []string{"exports rows", "handles empty set"},
		AnalyzedSymbols:    []string{"Exporter"},
		EntryPoints:        []string{"Exporter.Write"},
	})
	require.NoError(t, err)
	assert.Equal(t, "add-export", analysis.ChainID)
	assert.True(t, analysis.Analysis)
	assert.False(t, analysis.Validation)

	_, impl, err := server.handleRecordImplementation(ctx, recordImplementationInput{
		SessionID:      sessionID,
		TaskID:         "add-export",
		AgentID:        "implementer",
		ChangedSymbols: []string{"Exporter.Write"},
		FilesModified:  []string{"export.go"},
		Upstream:       "add-export",
	})
	require.NoError(t, err)
	assert.True(t, impl.Implementation)

	_, valid, err := server.handleRecordValidation(ctx, recordValidationInput{
		SessionID:   sessionID,
		TaskID:      "add-export",
		AgentID:     "validator",
		TestsPassed: 4,
		Upstream:    "add-export",
		Verified:    map[string]bool{"exports rows": true, "handles empty set": true},
	})
	require.NoError(t, err)
	assert.True(t, valid.Validation)
	assert.Equal(t, 100, valid.Coverage)

	_, status, err := server.handleEvidenceStatus(ctx, evidenceStatusInput{
		SessionID: sessionID, ChainID: "add-export",
	})
	require.NoError(t, err)
	assert.Equal(t, 100, status.Coverage)

	_, report, err := server.handleValidateEvidence(ctx, validateEvidenceInput{
		SessionID: sessionID, ChainID: "add-export",
	})
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
}

func TestEvidenceTools_Errors(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t)
	sessionID := startEvidenceSession(t, server)

	t.Run("status of unknown chain", func(t *testing.T) {
		_, _, err := server.handleEvidenceStatus(ctx, evidenceStatusInput{
			SessionID: sessionID, ChainID: "nope",
		})
		assert.Error(t, err)
	})

	t.Run("validate unknown chain", func(t *testing.T) {
		_, _, err := server.handleValidateEvidence(ctx, validateEvidenceInput{
			SessionID: sessionID, ChainID: "nope",
		})
		assert.Error(t, err)
	})

	t.Run("upstream mismatch surfaces in validation report", func(t *testing.T) {
		_, _, err := server.handleRecordAnalysis(ctx, recordAnalysisInput{
			SessionID: sessionID,
			TaskID:    "fix-auth",
			AgentID:   "analyzer",
		})
		require.NoError(t, err)

		_, _, err = server.handleRecordImplementation(ctx, recordImplementationInput{
			SessionID: sessionID,
			TaskID:    "fix-auth",
			AgentID:   "implementer",
			Upstream:  "some-other-task",
		})
		require.NoError(t, err)

		_, report, err := server.handleValidateEvidence(ctx, validateEvidenceInput{
			SessionID: sessionID, ChainID: "fix-auth",
		})
		require.NoError(t, err)
		assert.False(t, report.Valid)
		assert.NotEmpty(t, report.Errors)
	})
}
