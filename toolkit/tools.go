package toolkit

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/endlesschasey-ai/agent-template/types"
)

// DisplayTableArgs are the arguments of display_table.
type DisplayTableArgs struct {
	TableName string   `json:"table_name" jsonschema:"required,description=Table title shown to the user"`
	Columns   []string `json:"columns" jsonschema:"required,description=Column names in display order"`
	Data      [][]any  `json:"data" jsonschema:"required,description=Rows as arrays of cell values"`
}

// FinalizeAnswerArgs are the arguments of finalize_answer.
type FinalizeAnswerArgs struct {
	Answer string `json:"answer" jsonschema:"required,description=Final answer in markdown"`
}

func displayTableTool() tool {
	return tool{
		def: Definition{
			Name:        "display_table",
			Description: "Display tabular data to the user as a table.",
			Parameters:  schemaFor[DisplayTableArgs](),
		},
		run: func(ctx context.Context, k *Toolkit, raw string) (map[string]any, error) {
			var args DisplayTableArgs
			if err := DecodeArgs(raw, &args); err != nil {
				return nil, fmt.Errorf("display_table arguments: %w", err)
			}
			return k.DisplayTable(ctx, args)
		},
	}
}

func finalizeAnswerTool() tool {
	return tool{
		def: Definition{
			Name:        "finalize_answer",
			Description: "Output the final answer to the user.",
			Parameters:  schemaFor[FinalizeAnswerArgs](),
		},
		run: func(ctx context.Context, k *Toolkit, raw string) (map[string]any, error) {
			var args FinalizeAnswerArgs
			if err := DecodeArgs(raw, &args); err != nil {
				return nil, fmt.Errorf("finalize_answer arguments: %w", err)
			}
			return k.FinalizeAnswer(ctx, args.Answer)
		},
	}
}

// DisplayTable reports a table as tool_call_start, data(dataframe) and
// tool_call_end notifications, and returns the tool result.
func (k *Toolkit) DisplayTable(_ context.Context, args DisplayTableArgs) (map[string]any, error) {
	toolID := NewToolID()
	start := k.now()

	k.push(types.ToolStartNotification(types.ToolCallStartPayload{
		ToolID:      toolID,
		ToolName:    "display_table",
		Description: "展示表格: " + args.TableName,
		Arguments: map[string]any{
			"table_name": args.TableName,
			"columns":    len(args.Columns),
			"rows":       len(args.Data),
		},
	}))

	if args.TableName == "" || len(args.Columns) == 0 {
		err := errors.New("table_name and columns are required")
		k.push(types.ToolEndNotification(types.ToolCallEndPayload{
			ToolID: toolID,
			Status: types.ToolStatusFailed,
			Error:  map[string]any{"message": err.Error()},
		}, k.now().Sub(start).Milliseconds()))
		return nil, err
	}

	k.logger.Info("display_table", map[string]any{
		"table_name": args.TableName,
		"columns":    len(args.Columns),
		"rows":       len(args.Data),
	})

	rows := args.Data
	if rows == nil {
		rows = [][]any{}
	}
	k.push(types.DataNotification(types.DataPayload{
		DataType: types.DataTypeDataframe,
		Data: map[string]any{
			"name":    args.TableName,
			"columns": args.Columns,
			"rows":    rows,
		},
		Metadata: map[string]any{"description": "表格数据: " + args.TableName},
	}))

	result := map[string]any{
		"type":           "dataframe_display",
		"dataframe_name": args.TableName,
		"columns":        args.Columns,
		"data":           rows,
	}
	k.push(types.ToolEndNotification(types.ToolCallEndPayload{
		ToolID: toolID,
		Status: types.ToolStatusSuccess,
		Result: result,
	}, k.now().Sub(start).Milliseconds()))
	return result, nil
}

// FinalizeAnswer reports the final answer as one complete content
// notification wrapped in tool_call_start / tool_call_end.
func (k *Toolkit) FinalizeAnswer(_ context.Context, answer string) (map[string]any, error) {
	toolID := NewToolID()
	start := k.now()

	k.push(types.ToolStartNotification(types.ToolCallStartPayload{
		ToolID:      toolID,
		ToolName:    "finalize_answer",
		Description: "输出最终答案",
		Arguments:   map[string]any{"answer_length": utf8.RuneCountInString(answer)},
	}))
	k.push(types.ContentNotification(types.ContentPayload{
		Content:    answer,
		Format:     types.ContentFormatMarkdown,
		IsComplete: true,
	}))

	result := map[string]any{"type": "final_answer", "content": answer}
	k.push(types.ToolEndNotification(types.ToolCallEndPayload{
		ToolID: toolID,
		Status: types.ToolStatusSuccess,
		Result: result,
	}, k.now().Sub(start).Milliseconds()))
	return result, nil
}
