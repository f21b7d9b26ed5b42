package dashboard

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kforge/taskgraph/internal/events"
)

// Bridge forwards events.Bus events into a running tea.Program, the same
// role the teacher's tui.Bridge plays between its events.Bus and the unit
// progress TUI.
type Bridge struct {
	program *tea.Program
}

// NewBridge constructs a Bridge targeting program.
func NewBridge(program *tea.Program) *Bridge {
	return &Bridge{program: program}
}

// Handler returns an events.Handler suitable for events.Bus.Subscribe.
func (b *Bridge) Handler() events.Handler {
	return func(e events.Event) {
		if msg := b.toMsg(e); msg != nil {
			b.program.Send(msg)
		}
	}
}

func (b *Bridge) toMsg(e events.Event) tea.Msg {
	switch e.Type {
	case events.NodeScheduled:
		return NodeStateMsg{Pool: e.Pool, Node: e.Node, State: "Scheduled"}
	case events.NodeExecuting:
		return NodeStateMsg{Pool: e.Pool, Node: e.Node, State: "Executing"}
	case events.NodeCompleted:
		return NodeStateMsg{Pool: e.Pool, Node: e.Node, State: "Completed"}
	case events.NodeFailed:
		return NodeStateMsg{Pool: e.Pool, Node: e.Node, State: "Failed"}
	case events.NodeCancelled:
		return NodeStateMsg{Pool: e.Pool, Node: e.Node, State: "Cancelled"}
	case events.NodeYielded:
		return NodeStateMsg{Pool: e.Pool, Node: e.Node, State: "Yielded"}
	default:
		return nil
	}
}

// SendDone sends a DoneMsg to the program, ending the run.
func (b *Bridge) SendDone(d DoneMsg) {
	b.program.Send(d)
}
