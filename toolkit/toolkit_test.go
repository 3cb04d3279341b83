package toolkit

import (
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/endlesschasey-ai/agent-template/types"
)

type recordingSink struct {
	mu    sync.Mutex
	notes []types.Notification
}

func (s *recordingSink) Push(n types.Notification) {
	s.mu.Lock()
	s.notes = append(s.notes, n)
	s.mu.Unlock()
}

func TestDisplayTable_NotificationSequence(t *testing.T) {
	sink := &recordingSink{}
	k := New(sink)

	out, err := k.Call(t.Context(), "display_table",
		`{"table_name":"销售数据","columns":["产品","销量"],"data":[["A",100],["B",200]]}`)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if len(sink.notes) != 3 {
		t.Fatalf("got %d notifications, want 3", len(sink.notes))
	}
	start, data, end := sink.notes[0], sink.notes[1], sink.notes[2]

	if start.Kind != types.NotificationToolCallStart {
		t.Fatalf("first kind = %q", start.Kind)
	}
	if !regexp.MustCompile(`^tool_[0-9a-f]{8}$`).MatchString(start.ToolCallStart.ToolID) {
		t.Errorf("tool id = %q", start.ToolCallStart.ToolID)
	}
	if start.ToolCallStart.Description != "展示表格: 销售数据" {
		t.Errorf("description = %q", start.ToolCallStart.Description)
	}
	if start.ToolCallStart.Arguments["rows"] != 2 || start.ToolCallStart.Arguments["columns"] != 2 {
		t.Errorf("arguments = %v", start.ToolCallStart.Arguments)
	}

	if data.Kind != types.NotificationData || data.Data.DataType != types.DataTypeDataframe {
		t.Fatalf("second = %+v", data)
	}
	if data.Data.Data["name"] != "销售数据" {
		t.Errorf("data name = %v", data.Data.Data["name"])
	}

	if end.Kind != types.NotificationToolCallEnd || end.ToolCallEnd.Status != types.ToolStatusSuccess {
		t.Fatalf("third = %+v", end)
	}
	if end.ToolCallEnd.ToolID != start.ToolCallStart.ToolID {
		t.Error("end tool id does not match start")
	}
	if end.DurationMs == nil {
		t.Error("tool_call_end should carry duration")
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if result["type"] != "dataframe_display" {
		t.Errorf("result = %v", result)
	}
}

func TestDisplayTable_RepairsMalformedArguments(t *testing.T) {
	sink := &recordingSink{}
	k := New(sink)

	// Trailing comma and single quotes.
	_, err := k.Call(t.Context(), "display_table", `{'table_name':'t','columns':['a'],'data':[[1]],}`)
	if err != nil {
		t.Fatalf("Call with repairable arguments failed: %v", err)
	}
	if len(sink.notes) != 3 {
		t.Errorf("got %d notifications, want 3", len(sink.notes))
	}
}

func TestDisplayTable_MissingColumnsFails(t *testing.T) {
	sink := &recordingSink{}
	k := New(sink)

	if _, err := k.Call(t.Context(), "display_table", `{"table_name":"t"}`); err == nil {
		t.Fatal("expected error for missing columns")
	}
	if len(sink.notes) != 2 {
		t.Fatalf("got %d notifications, want start+end", len(sink.notes))
	}
	if sink.notes[1].ToolCallEnd.Status != types.ToolStatusFailed {
		t.Errorf("end status = %q", sink.notes[1].ToolCallEnd.Status)
	}
}

func TestFinalizeAnswer_OptIn(t *testing.T) {
	sink := &recordingSink{}
	if _, err := New(sink).Call(t.Context(), "finalize_answer", `{"answer":"x"}`); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("finalize_answer without opt-in = %v, want ErrUnknownTool", err)
	}

	k := New(sink, WithFinalizeAnswer())
	if _, err := k.Call(t.Context(), "finalize_answer", `{"answer":"完成"}`); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if len(sink.notes) != 3 {
		t.Fatalf("got %d notifications, want 3", len(sink.notes))
	}
	c := sink.notes[1]
	if c.Kind != types.NotificationContent || !c.Content.IsComplete || c.Content.Content != "完成" {
		t.Errorf("content notification = %+v", c.Content)
	}
	if sink.notes[0].ToolCallStart.Arguments["answer_length"] != 2 {
		t.Errorf("answer_length = %v", sink.notes[0].ToolCallStart.Arguments["answer_length"])
	}
}

func TestDefinitions_Schemas(t *testing.T) {
	defs := New(nil, WithFinalizeAnswer()).Definitions()
	if len(defs) != 2 || defs[0].Name != "display_table" || defs[1].Name != "finalize_answer" {
		t.Fatalf("definitions = %+v", defs)
	}
	params := defs[0].Parameters
	if params["type"] != "object" {
		t.Errorf("schema type = %v", params["type"])
	}
	if _, ok := params["$schema"]; ok {
		t.Error("$schema should be stripped")
	}
	props, _ := params["properties"].(map[string]any)
	for _, key := range []string{"table_name", "columns", "data"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema missing property %q", key)
		}
	}
	required, _ := params["required"].([]any)
	if len(required) != 3 {
		t.Errorf("required = %v", required)
	}
}

func TestDecodeArgs_NonSyntaxErrorNotRepaired(t *testing.T) {
	var args DisplayTableArgs
	err := DecodeArgs(`{"table_name": 5}`, &args)
	if err == nil {
		t.Fatal("expected type error")
	}
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) {
		t.Errorf("err = %T, want *json.UnmarshalTypeError", err)
	}
}
