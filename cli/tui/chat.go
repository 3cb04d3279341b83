// Package tui provides the interactive Bubble Tea view for the chat
// command.
//
// The view is only used when table output goes to a terminal. Piped and
// json output keep the line printer.
package tui

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/endlesschasey-ai/agent-template/cli/render"
	"github.com/endlesschasey-ai/agent-template/types"
)

// EventMsg carries one decoded stream event into the model.
type EventMsg struct {
	Event *types.Event
}

// StreamDoneMsg is sent once the stream has closed.
type StreamDoneMsg struct{}

type keyMap struct {
	Interrupt key.Binding
}

var keys = keyMap{
	Interrupt: key.NewBinding(
		key.WithKeys("ctrl+c", "esc"),
		key.WithHelp("ctrl+c", "stop"),
	),
}

type runningTool struct {
	id    string
	label string
}

// ChatModel renders one chat turn. Finished output goes through
// render.EventPrinter; tool calls that have started but not ended are shown
// below it with a spinner.
type ChatModel struct {
	styles     render.Styles
	transcript *bytes.Buffer
	printer    *render.EventPrinter
	spinner    spinner.Model
	running    []runningTool
	height     int

	done        bool
	interrupted bool
}

// NewChatModel creates a model rendering with styles.
func NewChatModel(styles render.Styles) ChatModel {
	buf := &bytes.Buffer{}
	return ChatModel{
		styles:     styles,
		transcript: buf,
		printer:    render.NewEventPrinter(buf, styles),
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.Tool)),
	}
}

// Init implements tea.Model.
func (m ChatModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Interrupt) {
			m.interrupted = true
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case EventMsg:
		m.printer.Print(msg.Event)
		m.track(msg.Event)
		return m, nil

	case StreamDoneMsg:
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// track keeps the running tool list in start order.
func (m *ChatModel) track(ev *types.Event) {
	switch d := ev.Data.(type) {
	case *types.ToolCallStartPayload:
		m.running = append(m.running, runningTool{id: d.ToolID, label: d.ToolName})
	case *types.ToolCallProgressPayload:
		for i := range m.running {
			if m.running[i].id == d.ToolID {
				name, _, _ := strings.Cut(m.running[i].label, " ")
				m.running[i].label = fmt.Sprintf("%s %.0f%% %s", name, d.Progress, d.Message)
			}
		}
	case *types.ToolCallEndPayload:
		for i := range m.running {
			if m.running[i].id == d.ToolID {
				m.running = append(m.running[:i], m.running[i+1:]...)
				break
			}
		}
	case *types.SessionEndPayload:
		m.running = nil
	}
}

// View implements tea.Model. Once the turn is over the view is empty and
// the caller prints Transcript in full.
func (m ChatModel) View() string {
	if m.done {
		return ""
	}

	body := strings.TrimSuffix(m.transcript.String(), "\n")
	lines := strings.Split(body, "\n")
	if m.height > 0 {
		room := m.height - len(m.running) - 1
		if room < 1 {
			room = 1
		}
		if len(lines) > room {
			lines = lines[len(lines)-room:]
		}
	}

	var b strings.Builder
	b.WriteString(strings.Join(lines, "\n"))
	for _, t := range m.running {
		b.WriteString("\n" + m.spinner.View() + " " + m.styles.Tool.Render(t.label))
	}
	return b.String()
}

// Transcript returns everything rendered so far.
func (m ChatModel) Transcript() string { return m.transcript.String() }

// Running returns the labels of tool calls still in flight.
func (m ChatModel) Running() []string {
	labels := make([]string, len(m.running))
	for i, t := range m.running {
		labels[i] = t.label
	}
	return labels
}

// Interrupted reports whether the user stopped the turn.
func (m ChatModel) Interrupted() bool { return m.interrupted }
