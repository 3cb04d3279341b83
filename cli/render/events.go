package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/endlesschasey-ai/agent-template/types"
)

// EventPrinter renders a chat stream for a terminal: content inline, tool
// calls and data blocks on their own lines, and a summary box at the end.
type EventPrinter struct {
	out      io.Writer
	styles   Styles
	midLine  bool
	toolName map[string]string
}

// NewEventPrinter creates a printer writing to out.
func NewEventPrinter(out io.Writer, styles Styles) *EventPrinter {
	return &EventPrinter{out: out, styles: styles, toolName: make(map[string]string)}
}

// Print renders one event.
func (p *EventPrinter) Print(ev *types.Event) {
	switch d := ev.Data.(type) {
	case *types.SessionStartPayload:
		p.line(p.styles.Muted.Render(fmt.Sprintf("session %s · request %s", d.SessionID, d.RequestID)))
	case *types.ContentPayload:
		if d.Content != "" {
			fmt.Fprint(p.out, d.Content)
			p.midLine = !strings.HasSuffix(d.Content, "\n")
		}
	case *types.ToolCallStartPayload:
		p.toolName[d.ToolID] = d.ToolName
		label := d.ToolName
		if d.Description != "" {
			label += ": " + d.Description
		}
		p.line(p.styles.Tool.Render("⚙ " + label))
	case *types.ToolCallProgressPayload:
		p.line(p.styles.Muted.Render(fmt.Sprintf("  %s %.0f%% %s", p.toolName[d.ToolID], d.Progress, d.Message)))
	case *types.ToolCallEndPayload:
		status := string(d.Status)
		msg := fmt.Sprintf("✓ %s %s", p.toolName[d.ToolID], status)
		if ev.Metadata.DurationMs != nil {
			msg += fmt.Sprintf(" (%dms)", *ev.Metadata.DurationMs)
		}
		p.line(p.styles.Status(status).Render(msg))
	case *types.DataPayload:
		p.printData(d)
	case *types.ErrorPayload:
		p.line(p.styles.Error.Render(fmt.Sprintf("✗ %s error: %s", d.ErrorType, d.Message)))
	case *types.SessionEndPayload:
		p.printSummary(d)
	}
}

func (p *EventPrinter) printData(d *types.DataPayload) {
	name, _ := d.Data["name"].(string)
	header := fmt.Sprintf("▦ %s %s", d.DataType, name)
	if d.DataType != types.DataTypeDataframe {
		p.line(p.styles.Data.Render(header))
		return
	}
	cols, _ := d.Data["columns"].([]any)
	rows, _ := d.Data["rows"].([]any)
	p.line(p.styles.Data.Render(fmt.Sprintf("%s (%d rows)", header, len(rows))))

	var b strings.Builder
	b.WriteString(p.styles.Header.Render(joinCells(cols)))
	for _, r := range rows {
		cells, _ := r.([]any)
		b.WriteString("\n" + joinCells(cells))
	}
	fmt.Fprintln(p.out, p.styles.Box.Render(b.String()))
}

func joinCells(cells []any) string {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = fmt.Sprint(c)
	}
	return strings.Join(parts, " | ")
}

func (p *EventPrinter) printSummary(d *types.SessionEndPayload) {
	s := d.Summary
	text := fmt.Sprintf("%s · %d tool calls · %d data blocks · %d chars · %d events · %dms",
		p.styles.Status(string(d.Status)).Render(string(d.Status)),
		s.ToolCalls, s.DataBlocks, s.ContentLength, s.TotalEvents, s.DurationMs)
	p.line(p.styles.Muted.Render(text))
}

// line prints s on its own line, ending any partial content line first.
func (p *EventPrinter) line(s string) {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
	fmt.Fprintln(p.out, s)
}
