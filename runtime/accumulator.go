package runtime

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/endlesschasey-ai/agent-template/types"
)

// DefaultDataBlockName names data blocks that carry no "name" field.
const DefaultDataBlockName = "未命名数据"

// ToolRecord tracks one tool invocation within a stream.
type ToolRecord struct {
	ToolID      string
	Name        string
	Description string
	Arguments   map[string]any
	Status      types.ToolStatus
	Result      map[string]any
	Error       map[string]any
	// DurationMs is set when the tool reported its execution time.
	DurationMs *int64
}

// DataBlock tracks one emitted data block.
type DataBlock struct {
	DataType types.DataType
	Name     string
}

// Accumulator collects what a stream produced, for persistence and the
// terminal summary. It is owned by the merge loop goroutine.
type Accumulator struct {
	text   strings.Builder
	tools  []*ToolRecord
	byID   map[string]*ToolRecord
	blocks []DataBlock
	start  time.Time
}

// NewAccumulator creates an accumulator whose duration is measured from start.
func NewAccumulator(start time.Time) *Accumulator {
	return &Accumulator{byID: make(map[string]*ToolRecord), start: start}
}

// AppendText appends a fragment to the answer text.
func (a *Accumulator) AppendText(s string) {
	a.text.WriteString(s)
}

// Text returns the answer text so far.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// ContentLength is the answer length in Unicode code points.
func (a *Accumulator) ContentLength() int {
	return utf8.RuneCountInString(a.text.String())
}

// StartTool records a tool_call_start. A tool id may start only once.
func (a *Accumulator) StartTool(p types.ToolCallStartPayload) error {
	if p.ToolID == "" {
		return fmt.Errorf("%w: tool_call_start without tool_id", ErrMalformed)
	}
	if _, ok := a.byID[p.ToolID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, p.ToolID)
	}
	rec := &ToolRecord{
		ToolID:      p.ToolID,
		Name:        p.ToolName,
		Description: p.Description,
		Arguments:   p.Arguments,
		Status:      types.ToolStatusPending,
	}
	a.tools = append(a.tools, rec)
	a.byID[p.ToolID] = rec
	return nil
}

// CheckProgress validates a tool_call_progress against the started tools.
func (a *Accumulator) CheckProgress(p types.ToolCallProgressPayload) error {
	rec, ok := a.byID[p.ToolID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, p.ToolID)
	}
	if rec.Status != types.ToolStatusPending {
		return fmt.Errorf("%w: %s", ErrToolAlreadyEnded, p.ToolID)
	}
	if p.Progress < 0 || p.Progress > 100 {
		return fmt.Errorf("%w: progress %v out of range", ErrMalformed, p.Progress)
	}
	return nil
}

// EndTool records a tool_call_end. The tool must be started and still pending.
func (a *Accumulator) EndTool(p types.ToolCallEndPayload, durationMs *int64) error {
	rec, ok := a.byID[p.ToolID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, p.ToolID)
	}
	if rec.Status != types.ToolStatusPending {
		return fmt.Errorf("%w: %s", ErrToolAlreadyEnded, p.ToolID)
	}
	if p.Status != types.ToolStatusSuccess && p.Status != types.ToolStatusFailed {
		return fmt.Errorf("%w: tool status %q", ErrMalformed, p.Status)
	}
	rec.Status = p.Status
	rec.Result = p.Result
	rec.Error = p.Error
	rec.DurationMs = durationMs
	return nil
}

// AddData records a data block.
func (a *Accumulator) AddData(p types.DataPayload) error {
	switch p.DataType {
	case types.DataTypeDataframe, types.DataTypeChart, types.DataTypeImage, types.DataTypeCustom:
	default:
		return fmt.Errorf("%w: data_type %q", ErrMalformed, p.DataType)
	}
	name := DefaultDataBlockName
	if n, ok := p.Data["name"].(string); ok && n != "" {
		name = n
	}
	a.blocks = append(a.blocks, DataBlock{DataType: p.DataType, Name: name})
	return nil
}

// Tools returns the tool records in start order.
func (a *Accumulator) Tools() []ToolRecord {
	out := make([]ToolRecord, len(a.tools))
	for i, r := range a.tools {
		out[i] = *r
	}
	return out
}

// DataBlocks returns the recorded data blocks in emission order.
func (a *Accumulator) DataBlocks() []DataBlock {
	return append([]DataBlock(nil), a.blocks...)
}

// Elapsed returns the time since the stream started.
func (a *Accumulator) Elapsed(now time.Time) time.Duration {
	return now.Sub(a.start)
}

// Summary builds the terminal statistics. totalEvents is the number of
// events emitted before the terminal one.
func (a *Accumulator) Summary(now time.Time, totalEvents int64) types.Summary {
	return types.Summary{
		ToolCalls:     len(a.tools),
		DataBlocks:    len(a.blocks),
		ContentLength: a.ContentLength(),
		DurationMs:    a.Elapsed(now).Milliseconds(),
		TotalEvents:   totalEvents,
	}
}

// MessageMetadata is the metadata stored with the assistant message.
// Keys are present only when non-empty; nil when nothing was recorded.
func (a *Accumulator) MessageMetadata() map[string]any {
	if len(a.tools) == 0 && len(a.blocks) == 0 {
		return nil
	}
	md := make(map[string]any, 2)
	if len(a.tools) > 0 {
		calls := make([]types.ToolCallMeta, 0, len(a.tools))
		for _, r := range a.tools {
			calls = append(calls, types.ToolCallMeta{
				ToolID:      r.ToolID,
				ToolName:    r.Name,
				Description: r.Description,
				Status:      r.Status,
				DurationMs:  r.DurationMs,
			})
		}
		md["tool_calls"] = calls
	}
	if len(a.blocks) > 0 {
		blocks := make([]types.DataBlockMeta, 0, len(a.blocks))
		for _, b := range a.blocks {
			blocks = append(blocks, types.DataBlockMeta{DataType: b.DataType, Name: b.Name})
		}
		md["data_blocks"] = blocks
	}
	return md
}
