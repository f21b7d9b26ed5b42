// Package dashboard is a bubbletea program that renders a WorkGraph run's
// live progress: one row per node with its latest state, elapsed time,
// and the final completion tally. It does not show per-pool queue depth
// or worker counts. It
// subscribes to an events.Bus the way the teacher's internal/cli/tui
// subscribes to unit/task lifecycle events, adapted from per-unit task
// progress to per-node graph progress.
package dashboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// nodeRow is one rendered node. State mirrors workgraph.NodeState's
// String() output; kept as a plain string here so this package doesn't
// need to import workgraph just to render it.
type nodeRow struct {
	Name  string
	State string
}

// TickMsg drives the elapsed-time display.
type TickMsg time.Time

// NodeStateMsg is sent whenever a node's event fires.
type NodeStateMsg struct {
	Pool  string
	Node  string
	State string
}

// DoneMsg signals the run has finished.
type DoneMsg struct {
	Completed, Failed, Cancelled, Dropped int32
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	Styles Styles

	Total     int
	Rows      map[string]*nodeRow
	StartTime time.Time

	Done   bool
	Result DoneMsg

	Quitting bool
	Width    int
}

// New constructs a dashboard model for a run of total nodes.
func New(total int) *Model {
	return &Model{
		Styles:    DefaultStyles(),
		Total:     total,
		Rows:      make(map[string]*nodeRow),
		StartTime: time.Now(),
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.Quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width

	case TickMsg:
		if m.Done {
			return m, nil
		}
		return m, tickCmd()

	case NodeStateMsg:
		row, ok := m.Rows[msg.Node]
		if !ok {
			row = &nodeRow{Name: msg.Node}
			m.Rows[msg.Node] = row
		}
		row.State = msg.State

	case DoneMsg:
		m.Done = true
		m.Result = msg
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder
	elapsed := time.Since(m.StartTime).Round(100 * time.Millisecond)
	b.WriteString(m.Styles.Title.Render("taskgraphctl"))
	b.WriteString("  ")
	b.WriteString(m.Styles.Timer.Render(elapsed.String()))
	b.WriteString("\n\n")

	names := make([]string, 0, len(m.Rows))
	for n := range m.Rows {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		row := m.Rows[n]
		b.WriteString(m.renderRow(row))
		b.WriteString("\n")
	}

	if m.Done {
		b.WriteString("\n")
		fmt.Fprintf(&b, "completed=%d failed=%d cancelled=%d dropped=%d\n",
			m.Result.Completed, m.Result.Failed, m.Result.Cancelled, m.Result.Dropped)
	}

	b.WriteString(m.Styles.Footer.Render(m.Styles.FooterKey.Render("q") + " quit"))
	return b.String()
}

func (m *Model) renderRow(row *nodeRow) string {
	icon, style := IconScheduled, m.Styles.NodeReady
	switch row.State {
	case "Completed":
		icon, style = IconDone, m.Styles.NodeDone
	case "Failed":
		icon, style = IconFailed, m.Styles.NodeFail
	case "Cancelled":
		icon, style = IconCancelled, m.Styles.NodeFail
	case "Yielded":
		icon, style = IconYielded, m.Styles.NodeReady
	}
	return fmt.Sprintf("%s %s  %s", style.Render(icon), m.Styles.PoolName.Render(row.Name), row.State)
}
