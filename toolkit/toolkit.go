// Package toolkit implements the tools a generation process can call.
// Tools report their lifecycle (start, data, end) as notifications on the
// stream's side-channel queue while the model is still generating.
package toolkit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"

	"github.com/endlesschasey-ai/agent-template/log"
	"github.com/endlesschasey-ai/agent-template/source"
	"github.com/endlesschasey-ai/agent-template/types"
)

// ErrUnknownTool is returned by Call for an unregistered tool name.
var ErrUnknownTool = errors.New("unknown tool")

// Definition describes a tool to a model.
type Definition struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the arguments object.
	Parameters map[string]any
}

// handler runs one tool call and returns its result object.
type handler func(ctx context.Context, tk *Toolkit, raw string) (map[string]any, error)

type tool struct {
	def Definition
	run handler
}

// Toolkit is the set of tools bound to one stream's notification sink.
// Safe for concurrent calls.
type Toolkit struct {
	sink   source.Sink
	logger *log.Logger
	now    func() time.Time
	tools  map[string]tool
}

// Option configures a Toolkit.
type Option func(*Toolkit)

// WithFinalizeAnswer registers finalize_answer in addition to display_table.
func WithFinalizeAnswer() Option {
	return func(k *Toolkit) {
		k.register(finalizeAnswerTool())
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(k *Toolkit) { k.logger = l }
}

// WithClock overrides the clock used for tool durations.
func WithClock(now func() time.Time) Option {
	return func(k *Toolkit) { k.now = now }
}

// New creates a toolkit that reports to sink. display_table is always registered.
func New(sink source.Sink, opts ...Option) *Toolkit {
	k := &Toolkit{sink: sink, now: time.Now, tools: make(map[string]tool)}
	k.register(displayTableTool())
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *Toolkit) register(t tool) {
	k.tools[t.def.Name] = t
}

// Definitions lists registered tools sorted by name.
func (k *Toolkit) Definitions() []Definition {
	out := make([]Definition, 0, len(k.tools))
	for _, t := range k.tools {
		out = append(out, t.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs the named tool with JSON-encoded arguments and returns the
// JSON-encoded result. Malformed argument JSON is repaired when possible.
func (k *Toolkit) Call(ctx context.Context, name, arguments string) (string, error) {
	t, ok := k.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	result, err := t.run(ctx, k, arguments)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode %s result: %w", name, err)
	}
	return string(b), nil
}

func (k *Toolkit) push(n types.Notification) {
	if k.sink != nil {
		k.sink.Push(n)
	}
}

// NewToolID returns a tool call identifier of the form tool_<8 hex>.
func NewToolID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "tool_" + hex.EncodeToString(b[:])
}

// DecodeArgs unmarshals tool arguments into v. If the JSON is malformed it
// is repaired and decoded again; models regularly emit trailing commas and
// unquoted keys.
func DecodeArgs(raw string, v any) error {
	if raw == "" {
		raw = "{}"
	}
	err := json.Unmarshal([]byte(raw), v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(raw)
	if rerr != nil {
		return fmt.Errorf("repair arguments: %w", rerr)
	}
	return json.Unmarshal([]byte(fixed), v)
}

// schemaFor reflects the JSON schema of T's arguments object.
func schemaFor[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero T
	schema := reflector.Reflect(zero)

	b, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("failed to generate schema for type %T: %v", zero, err))
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("failed to decode schema for type %T: %v", zero, err))
	}
	delete(out, "$schema")
	return out
}
