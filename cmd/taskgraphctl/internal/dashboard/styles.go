package dashboard

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles for the dashboard, the same grouping
// the teacher's tui.Styles uses for its unit-progress display.
type Styles struct {
	Title     lipgloss.Style
	Timer     lipgloss.Style
	PoolName  lipgloss.Style
	NodeReady lipgloss.Style
	NodeDone  lipgloss.Style
	NodeFail  lipgloss.Style
	Footer    lipgloss.Style
	FooterKey lipgloss.Style
}

// DefaultStyles returns the dashboard's default palette.
func DefaultStyles() Styles {
	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Timer:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		PoolName:  lipgloss.NewStyle().Bold(true),
		NodeReady: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		NodeDone:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		NodeFail:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Footer:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")).MarginTop(1),
		FooterKey: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
}

// Icons used in the dashboard.
const (
	IconScheduled = "●"
	IconDone      = "✓"
	IconFailed    = "✗"
	IconCancelled = "⊘"
	IconYielded   = "⏳"
)
