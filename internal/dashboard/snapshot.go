package dashboard

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/fyrsmithlabs/sessiond/internal/evidence"
	"github.com/fyrsmithlabs/sessiond/internal/gate"
	"github.com/fyrsmithlabs/sessiond/internal/session"
)

// ChainSummary is one evidence chain row.
type ChainSummary struct {
	ID              string
	Task            string
	CoveragePercent int
	AnalysisLinked  bool
	ImplLinked      bool
	ValidLinked     bool
}

// PhaseSummary is one gate phase row, from the latest recorded result.
type PhaseSummary struct {
	PhaseID  string
	Passed   bool
	Blockers int
	Checks   int
}

// Snapshot holds everything one refresh reads from the store.
type Snapshot struct {
	Status *session.Status
	Chains []ChainSummary
	Phases []PhaseSummary

	// GatePassRate is passed-phases / checked-phases, 0..100. Zero when
	// no gate has run yet.
	GatePassRate float64

	// MeanCoverage averages chain coverage, 0..100.
	MeanCoverage float64
}

// Collect reads a session snapshot from the store.
func Collect(ctx context.Context, store *session.Store, sessionID string) (*Snapshot, error) {
	status, err := store.Status(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Status: status}

	chains, err := store.ListChains(ctx, sessionID)
	if err == nil {
		snap.Chains = summarizeChains(chains)
	}

	phases, err := store.GatePhases(ctx, sessionID)
	if err == nil {
		snap.Phases = summarizePhases(ctx, store, sessionID, phases)
	}

	if total := len(snap.Chains); total > 0 {
		sum := 0
		for _, c := range snap.Chains {
			sum += c.CoveragePercent
		}
		snap.MeanCoverage = float64(sum) / float64(total)
	}
	if total := len(snap.Phases); total > 0 {
		passed := 0
		for _, p := range snap.Phases {
			if p.Passed {
				passed++
			}
		}
		snap.GatePassRate = float64(passed) / float64(total) * 100
	}
	return snap, nil
}

func summarizeChains(chains []*evidence.Chain) []ChainSummary {
	out := make([]ChainSummary, 0, len(chains))
	for _, chain := range chains {
		out = append(out, ChainSummary{
			ID:              chain.ID,
			Task:            chain.Requirement.TaskID,
			CoveragePercent: chain.Status.CoveragePercent,
			AnalysisLinked:  chain.Status.AnalysisLinked,
			ImplLinked:      chain.Status.ImplementationLinked,
			ValidLinked:     chain.Status.ValidationLinked,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func summarizePhases(ctx context.Context, store *session.Store, sessionID string, phases []string) []PhaseSummary {
	out := make([]PhaseSummary, 0, len(phases))
	for _, phase := range phases {
		raw, err := store.LatestGateResult(ctx, sessionID, phase)
		if err != nil {
			continue
		}
		var result gate.GateResult
		if err := json.Unmarshal(raw, &result); err != nil {
			continue
		}
		out = append(out, PhaseSummary{
			PhaseID:  phase,
			Passed:   result.Passed,
			Blockers: len(result.Blockers),
			Checks:   len(result.Results),
		})
	}
	return out
}
