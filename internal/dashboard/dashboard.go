// Package dashboard renders a live terminal view of one session: artifact
// counts, evidence chain coverage, and gate verdicts, refreshed on a timer
// and on filesystem changes under the session directory.
package dashboard

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"github.com/fyrsmithlabs/sessiond/internal/session"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model is the BubbleTea dashboard model.
type Model struct {
	store     *session.Store
	sessionID string
	interval  time.Duration

	lastUpdate time.Time
	snapshot   *Snapshot
	err        error
	quitting   bool

	passRateHistory []float64
	coverageHistory []float64

	coverageProgress progress.Model
	watcher          *fsnotify.Watcher
}

// Lipgloss styles (k9s-inspired color scheme).
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard model for one session. The fsnotify watcher
// is optional; pass nil to refresh on the timer alone.
func NewModel(store *session.Store, sessionID string, interval time.Duration, watcher *fsnotify.Watcher) Model {
	return Model{
		store:     store,
		sessionID: sessionID,
		interval:  interval,
		coverageProgress: progress.New(
			progress.WithGradient("#00ff00", "#ffff00"),
			progress.WithWidth(40),
		),
		passRateHistory: make([]float64, 0, historySize),
		coverageHistory: make([]float64, 0, historySize),
		watcher:         watcher,
	}
}

// NewWatcher builds an fsnotify watcher over the session directory and its
// artifact subdirectories. Subdirectories created later are picked up by the
// timer refresh instead.
func NewWatcher(store *session.Store, sessionID string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	dir := filepath.Join(store.BasePath(), sessionID)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	for _, sub := range []string{"prompt", "plan", "handoff", "state", "memories", "evidence", "gate_result"} {
		// Best effort: a subdir only exists once its first artifact lands.
		_ = watcher.Add(filepath.Join(dir, sub))
	}
	return watcher, nil
}

// Message types.
type tickMsg time.Time
type snapshotMsg *Snapshot
type fileChangedMsg struct{}
type errMsg error

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		tick(m.interval),
		m.refresh(),
	}
	if m.watcher != nil {
		cmds = append(cmds, waitForChange(m.watcher))
	}
	return tea.Batch(cmds...)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh reads a fresh snapshot from the store.
func (m Model) refresh() tea.Cmd {
	store, sessionID := m.store, m.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap, err := Collect(ctx, store, sessionID)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(snap)
	}
}

// waitForChange blocks on the next filesystem event under the session dir.
func waitForChange(watcher *fsnotify.Watcher) tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					return fileChangedMsg{}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	return sparklineStyle.Render(spark.View())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.watcher != nil {
				m.watcher.Close()
			}
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			m.refresh(),
		)

	case fileChangedMsg:
		cmds := []tea.Cmd{m.refresh()}
		if m.watcher != nil {
			cmds = append(cmds, waitForChange(m.watcher))
		}
		return m, tea.Batch(cmds...)

	case snapshotMsg:
		m.snapshot = (*Snapshot)(msg)
		m.passRateHistory = appendToHistory(m.passRateHistory, m.snapshot.GatePassRate)
		m.coverageHistory = appendToHistory(m.coverageHistory, m.snapshot.MeanCoverage)
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render(" sessiond Dashboard ")

	var content string
	content += "\n"
	content += failStyle.Render("⚠ Cannot read session") + "\n"
	content += "\n"
	content += dimStyle.Render("Session: ") + valueStyle.Render(m.sessionID) + "\n"
	content += dimStyle.Render("Error: ") + failStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func chainBadge(c ChainSummary) string {
	switch {
	case c.AnalysisLinked && c.ImplLinked && c.ValidLinked:
		return passStyle.Render("[✓]")
	case c.AnalysisLinked:
		return warnStyle.Render("[…]")
	default:
		return failStyle.Render("[ ]")
	}
}

func gateBadge(p PhaseSummary) string {
	if p.Passed {
		return passStyle.Render("✓ PASS")
	}
	return failStyle.Render("✗ FAIL")
}

func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	header := headerStyle.Render(" sessiond Dashboard ")
	content += header + "\n"

	if m.snapshot == nil {
		content += dimStyle.Render("Waiting for first snapshot...") + "\n"
		content += "\n" + footerKeyStyle.Render("[q]") + footerStyle.Render(" quit")
		return containerStyle.Render(content)
	}
	snap := m.snapshot

	sessionLine := fmt.Sprintf("%s %s   %s %s   %s",
		dimStyle.Render("Session:"),
		valueStyle.Render(snap.Status.Session.ID),
		dimStyle.Render("Template:"),
		valueStyle.Render(orDash(snap.Status.Session.Template)),
		dimStyle.Render(lastUpdateStr))
	content += sessionLine + "\n"

	if git := snap.Status.Session.Git; git != nil {
		content += dimStyle.Render("Branch: ") + valueStyle.Render(git.Branch) +
			dimStyle.Render("  @ ") + valueStyle.Render(shortCommit(git.Commit)) + "\n"
	}

	// Artifacts section.
	content += "\n" + sectionStyle.Render("┃ Artifacts") + "\n"
	content += labelStyle.Render("  Prompts: ") + valueStyle.Render(fmt.Sprintf("%d", snap.Status.ArtifactCounts[session.ArtifactPrompt])) +
		labelStyle.Render("  Plans: ") + valueStyle.Render(fmt.Sprintf("%d", snap.Status.ArtifactCounts[session.ArtifactPlan])) +
		labelStyle.Render("  Handoffs: ") + valueStyle.Render(fmt.Sprintf("%d", snap.Status.ArtifactCounts[session.ArtifactHandoff])) +
		labelStyle.Render("  Memories: ") + valueStyle.Render(fmt.Sprintf("%d", snap.Status.Memories)) + "\n"
	content += labelStyle.Render("  History: ") + valueStyle.Render(fmt.Sprintf("%d entries", snap.Status.HistoryLen)) + "\n"

	// Evidence section with per-chain coverage bars.
	content += "\n" + sectionStyle.Render("┃ Evidence Chains") + "\n"
	if len(snap.Chains) == 0 {
		content += dimStyle.Render("  none recorded") + "\n"
	}
	for _, chain := range snap.Chains {
		ratio := float64(chain.CoveragePercent) / 100.0
		content += labelStyle.Render("  "+chain.Task+": ") +
			m.coverageProgress.ViewAs(ratio) +
			" " + dimStyle.Render(fmt.Sprintf("%d%%", chain.CoveragePercent)) +
			" " + chainBadge(chain) + "\n"
	}
	coverageSparkline := createSparkline(m.coverageHistory)
	content += labelStyle.Render("  Mean: ") +
		valueStyle.Render(fmt.Sprintf("%.0f%%", snap.MeanCoverage)) +
		"   " + coverageSparkline + "\n"

	// Gates section with pass-rate sparkline.
	content += "\n" + sectionStyle.Render("┃ Gates") + "\n"
	if len(snap.Phases) == 0 {
		content += dimStyle.Render("  no gate checks yet") + "\n"
	}
	for _, phase := range snap.Phases {
		content += labelStyle.Render("  "+phase.PhaseID+": ") + gateBadge(phase)
		if phase.Blockers > 0 {
			content += " " + failStyle.Render(fmt.Sprintf("%d blocker(s)", phase.Blockers))
		}
		content += dimStyle.Render(fmt.Sprintf("  %d checks", phase.Checks)) + "\n"
	}
	passSparkline := createSparkline(m.passRateHistory)
	content += labelStyle.Render("  Pass rate: ") +
		valueStyle.Render(fmt.Sprintf("%.0f%%", snap.GatePassRate)) +
		"   " + passSparkline + "\n"

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	content += "\n" + footer

	return containerStyle.Render(content)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
