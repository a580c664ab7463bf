// Package tui is the choirctl status dashboard: a bubbletea program that
// polls the event store and the git working tree and renders a live
// summary of recent work items, runs, and the checkpoint trail. The
// teacher's own internal/interfaces/tui/tui.go left its bubbletea/glamour
// dependency unintegrated ("Bubbletea integration deferred"); this package
// is that integration, done for real against this system's domain, using
// the same lipgloss palette and box-drawing conventions the teacher's
// internal/interfaces/cli/renderer.go and banner.go use for their plain
// ANSI rendering.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	gitops "github.com/choiros/supervisor/internal/infrastructure/git"
	"github.com/choiros/supervisor/internal/infrastructure/eventstore"
)

const refreshInterval = 2 * time.Second

var (
	colorCyan    = lipgloss.Color("#00D7FF")
	colorDimCyan = lipgloss.Color("#00AFAF")
	colorGray    = lipgloss.Color("#6C6C6C")
	colorWhite   = lipgloss.Color("#FFFFFF")
	colorGreen   = lipgloss.Color("#00FF87")
	colorYellow  = lipgloss.Color("#FFD75F")
	colorRed     = lipgloss.Color("#FF5F5F")

	titleStyle = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(colorGray)
	valueStyle = lipgloss.NewStyle().Foreground(colorWhite)
	dimStyle   = lipgloss.NewStyle().Foreground(colorDimCyan)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorGray).Padding(0, 1)
)

func statusColor(status string) lipgloss.Color {
	switch status {
	case "verified", "resolved", "committed":
		return colorGreen
	case "failed", "rolled_back", "abandoned":
		return colorRed
	case "running", "executing", "verifying":
		return colorYellow
	default:
		return colorGray
	}
}

// snapshot is everything one refresh pulls off the store and the repo.
type snapshot struct {
	workItems []eventstore.WorkItemModel
	runs      []eventstore.RunModel
	gitStatus gitops.Status
	headSHA   string
	lastGood  string
	err       error
}

type snapshotMsg snapshot
type tickMsg time.Time

// Model is the bubbletea model backing `choirctl status`.
type Model struct {
	store *eventstore.Store
	git   *gitops.Ops

	spin     spinner.Model
	md       *glamour.TermRenderer
	snap     snapshot
	loaded   bool
	width    int
	height   int
}

// NewModel builds the dashboard model against a store and a git working
// tree. Both are read-only from the dashboard's point of view: it never
// triggers a run or a checkpoint, it only observes state the HTTP/WS
// surfaces or the orchestrator produced.
func NewModel(store *eventstore.Store, git *gitops.Ops) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorCyan)

	md, _ := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(76))

	return Model{store: store, git: git, spin: s, md: md}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		var snap snapshot
		workItems, err := m.store.ListWorkItems("", 8)
		if err != nil {
			return snapshotMsg{err: err}
		}
		runs, err := m.store.ListRuns("", 8)
		if err != nil {
			return snapshotMsg{err: err}
		}
		snap.workItems = workItems
		snap.runs = runs
		snap.headSHA = m.git.HeadSHA()
		if st, err := m.git.GetStatus(); err == nil {
			snap.gitStatus = st
		}
		if lastGood, ok, err := m.store.GetSyncState("last_good_checkpoint"); err == nil && ok {
			snap.lastGood = lastGood
		}
		return snapshotMsg(snap)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetch(), tick())

	case snapshotMsg:
		m.snap = snapshot(msg)
		m.loaded = true
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	header := titleStyle.Render("choirctl status")
	if !m.loaded {
		fmt.Fprintf(&b, "%s %s loading…\n", header, m.spin.View())
		return b.String()
	}
	b.WriteString(header)
	b.WriteString("\n\n")

	if m.snap.err != nil {
		b.WriteString(lipgloss.NewStyle().Foreground(colorRed).Render("error: "+m.snap.err.Error()) + "\n")
		return b.String()
	}

	b.WriteString(m.renderGit())
	b.WriteString("\n")
	b.WriteString(m.renderRuns())
	b.WriteString("\n")
	b.WriteString(m.renderWorkItems())
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("q quit · r refresh · auto-refreshing every " + refreshInterval.String()))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderGit() string {
	head := m.snap.headSHA
	if head == "" {
		head = "(no commits)"
	} else if len(head) > 10 {
		head = head[:10]
	}

	dirty := "clean"
	dirtyStyle := valueStyle
	if !m.snap.gitStatus.Clean {
		n := len(m.snap.gitStatus.Modified) + len(m.snap.gitStatus.Added) + len(m.snap.gitStatus.Deleted) + len(m.snap.gitStatus.Untracked)
		dirty = fmt.Sprintf("%d touched", n)
		dirtyStyle = lipgloss.NewStyle().Foreground(colorYellow)
	}

	lastGood := m.snap.lastGood
	if lastGood == "" {
		lastGood = "(none)"
	} else if len(lastGood) > 10 {
		lastGood = lastGood[:10]
	}

	content := fmt.Sprintf("%s %s   %s %s   %s %s",
		labelStyle.Render("HEAD"), valueStyle.Render(head),
		labelStyle.Render("tree"), dirtyStyle.Render(dirty),
		labelStyle.Render("last good"), valueStyle.Render(lastGood),
	)
	return boxStyle.Width(m.boxWidth()).Render(content)
}

func (m Model) renderRuns() string {
	if len(m.snap.runs) == 0 {
		return labelStyle.Render("no runs yet")
	}
	var lines []string
	lines = append(lines, titleStyle.Render("recent runs"))
	for _, r := range m.snap.runs {
		badge := lipgloss.NewStyle().Foreground(statusColor(r.Status)).Render(padRight(r.Status, 10))
		lines = append(lines, fmt.Sprintf("  %s %s %s",
			dimStyle.Render(shortID(r.ID)), badge, labelStyle.Render("mood="+r.Mood)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderWorkItems() string {
	if len(m.snap.workItems) == 0 {
		return labelStyle.Render("no work items yet")
	}
	var lines []string
	lines = append(lines, titleStyle.Render("work items"))
	for _, w := range m.snap.workItems {
		badge := lipgloss.NewStyle().Foreground(statusColor(w.Status)).Render(padRight(w.Status, 10))
		prompt := w.Prompt
		if len(prompt) > 60 {
			prompt = prompt[:57] + "..."
		}
		lines = append(lines, fmt.Sprintf("  %s %s %s", dimStyle.Render(shortID(w.ID)), badge, valueStyle.Render(prompt)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) boxWidth() int {
	if m.width <= 0 {
		return 72
	}
	if m.width-4 < 20 {
		return 20
	}
	return m.width - 4
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

// Run starts the dashboard's bubbletea program and blocks until the user
// quits.
func Run(store *eventstore.Store, git *gitops.Ops) error {
	p := tea.NewProgram(NewModel(store, git))
	_, err := p.Run()
	return err
}
