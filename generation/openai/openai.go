// Package openai implements a generation process backed by an
// OpenAI-compatible chat completions endpoint (DashScope compatible mode by
// default). Tool calls requested by the model are executed through the
// toolkit, whose notifications flow to the stream's side channel while the
// answer text is streamed as fragments.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/endlesschasey-ai/agent-template/generation"
	"github.com/endlesschasey-ai/agent-template/log"
	"github.com/endlesschasey-ai/agent-template/source"
	"github.com/endlesschasey-ai/agent-template/toolkit"
	"github.com/endlesschasey-ai/agent-template/types"
)

// Defaults.
const (
	DefaultBaseURL       = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultModel         = "qwen-max"
	DefaultMaxToolRounds = 5
)

// DefaultSystemPrompt instructs the model to answer in markdown and to show
// tabular data through display_table.
const DefaultSystemPrompt = `你是一个智能 AI 助手，能够与用户进行对话交流。

核心能力：
- 理解和回答用户的问题
- 进行逻辑推理和分析
- 展示表格数据（使用 display_table 工具）

工作方式：
- 直接回答用户问题，使用清晰、准确、有条理的语言
- 需要展示数据时，使用 display_table 工具
- 使用 markdown 格式来组织答案
`

// Config configures the generator.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// SystemPrompt defaults to DefaultSystemPrompt.
	SystemPrompt string
	// MaxToolRounds bounds model turns that end in tool calls. The last
	// round is sent without tools so the model has to answer.
	MaxToolRounds int
	// Temperature is sent when positive.
	Temperature float64
	// FinalizeAnswer additionally exposes the finalize_answer tool.
	FinalizeAnswer bool
	HTTPClient     *http.Client
	Logger         *log.Logger
}

// Generator streams chat completions.
type Generator struct {
	client oai.Client
	cfg    Config
}

// New creates a generator. An API key is required.
func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai generator requires an api key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Generator{client: oai.NewClient(opts...), cfg: cfg}, nil
}

// Name implements generation.Generator.
func (g *Generator) Name() string { return "openai" }

// Start prepares the conversation. The first request is sent by the first
// call to Next.
func (g *Generator) Start(_ context.Context, req generation.Request, sink source.Sink) (generation.Stream, error) {
	var tkOpts []toolkit.Option
	tkOpts = append(tkOpts, toolkit.WithLogger(g.cfg.Logger))
	if g.cfg.FinalizeAnswer {
		tkOpts = append(tkOpts, toolkit.WithFinalizeAnswer())
	}
	tk := toolkit.New(sink, tkOpts...)

	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	msgs = append(msgs, oai.SystemMessage(g.cfg.SystemPrompt))
	for _, m := range req.History {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case types.RoleUser:
			msgs = append(msgs, oai.UserMessage(m.Content))
		case types.RoleAssistant:
			msgs = append(msgs, oai.AssistantMessage(m.Content))
		}
	}
	msgs = append(msgs, oai.UserMessage(req.Input))

	return &stream{
		g:        g,
		tk:       tk,
		tools:    toolParams(tk.Definitions()),
		messages: msgs,
		logger:   g.cfg.Logger.With("openai"),
	}, nil
}

func toolParams(defs []toolkit.Definition) []oai.ChatCompletionToolParam {
	out := make([]oai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, oai.ChatCompletionToolParam{
			Function: oai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: param.NewOpt(d.Description),
				Parameters:  oai.FunctionParameters(d.Parameters),
			},
		})
	}
	return out
}

// pendingCall accumulates one tool call across deltas.
type pendingCall struct {
	index     int64
	id        string
	name      string
	arguments strings.Builder
}

type stream struct {
	mu       sync.Mutex
	g        *Generator
	tk       *toolkit.Toolkit
	tools    []oai.ChatCompletionToolParam
	messages []oai.ChatCompletionMessageParamUnion
	logger   *log.Logger

	cur    *ssestream.Stream[oai.ChatCompletionChunk]
	text   strings.Builder
	calls  map[int64]*pendingCall
	rounds int
	done   bool
	closed bool
}

// Next returns the next content delta. Between model turns it executes the
// requested tools and opens the follow-up request.
func (s *stream) Next(ctx context.Context) (types.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.done || s.closed {
			return types.Fragment{}, io.EOF
		}
		if s.cur == nil {
			s.open(ctx)
		}

		for s.cur.Next() {
			chunk := s.cur.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			for _, tc := range delta.ToolCalls {
				s.addToolDelta(tc)
			}
			if delta.Refusal != "" {
				return types.Fragment{}, fmt.Errorf("model refused: %s", delta.Refusal)
			}
			if delta.Content != "" {
				s.text.WriteString(delta.Content)
				return types.Fragment{Text: delta.Content}, nil
			}
		}
		err := s.cur.Err()
		_ = s.cur.Close()
		s.cur = nil
		if err != nil {
			return types.Fragment{}, fmt.Errorf("chat completion stream: %w", err)
		}

		if len(s.calls) == 0 {
			s.done = true
			return types.Fragment{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return types.Fragment{}, err
		}
		s.runTools(ctx)
	}
}

func (s *stream) open(ctx context.Context) {
	params := oai.ChatCompletionNewParams{
		Messages: s.messages,
		Model:    s.g.cfg.Model,
	}
	if s.g.cfg.Temperature > 0 {
		params.Temperature = param.NewOpt(s.g.cfg.Temperature)
	}
	// The final round is sent without tools so the model must answer.
	if s.rounds < s.g.cfg.MaxToolRounds && len(s.tools) > 0 {
		params.Tools = s.tools
	}
	s.logger.Debug("chat completion request", map[string]any{
		"model":    s.g.cfg.Model,
		"messages": len(s.messages),
		"round":    s.rounds,
		"tools":    len(params.Tools),
	})
	s.cur = s.g.client.Chat.Completions.NewStreaming(ctx, params)
	s.calls = make(map[int64]*pendingCall)
	s.text.Reset()
}

func (s *stream) addToolDelta(tc oai.ChatCompletionChunkChoiceDeltaToolCall) {
	pc, ok := s.calls[tc.Index]
	if !ok {
		pc = &pendingCall{index: tc.Index}
		s.calls[tc.Index] = pc
	}
	if tc.ID != "" {
		pc.id = tc.ID
	}
	pc.name += tc.Function.Name
	pc.arguments.WriteString(tc.Function.Arguments)
}

// runTools records the assistant turn, executes each call in index order,
// and appends the tool results for the next round.
func (s *stream) runTools(ctx context.Context) {
	calls := make([]*pendingCall, 0, len(s.calls))
	for _, pc := range s.calls {
		calls = append(calls, pc)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].index < calls[j].index })

	assistant := oai.ChatCompletionAssistantMessageParam{}
	if s.text.Len() > 0 {
		assistant.Content.OfString = param.NewOpt(s.text.String())
	}
	for _, pc := range calls {
		if pc.id == "" {
			pc.id = toolkit.NewToolID()
		}
		assistant.ToolCalls = append(assistant.ToolCalls, oai.ChatCompletionMessageToolCallParam{
			ID: pc.id,
			Function: oai.ChatCompletionMessageToolCallFunctionParam{
				Name:      pc.name,
				Arguments: pc.arguments.String(),
			},
		})
	}
	s.messages = append(s.messages, oai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

	for _, pc := range calls {
		result, err := s.tk.Call(ctx, pc.name, pc.arguments.String())
		if err != nil {
			s.logger.Warn("tool call failed", map[string]any{
				"tool":  pc.name,
				"error": err.Error(),
			})
			result = fmt.Sprintf(`{"error":%q}`, err.Error())
		}
		s.messages = append(s.messages, oai.ToolMessage(result, pc.id))
	}
	s.rounds++
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cur != nil {
		err := s.cur.Close()
		s.cur = nil
		return err
	}
	return nil
}

var _ generation.Generator = (*Generator)(nil)
