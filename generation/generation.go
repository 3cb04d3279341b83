// Package generation defines the generation process consumed by the
// streaming core and provides its implementations: a scripted generator,
// an OpenAI-compatible model client (package generation/openai), and an
// external subprocess speaking the ipc frame protocol.
package generation

import (
	"context"
	"fmt"

	"github.com/endlesschasey-ai/agent-template/source"
	"github.com/endlesschasey-ai/agent-template/types"
)

// Request is the input of one generation.
type Request struct {
	SessionID string
	RequestID string
	// Input is the user message that triggered this generation.
	Input string
	// History holds prior messages, oldest first, excluding Input.
	History []types.Message
}

// Stream produces text fragments. Next returns io.EOF when production has
// finished normally; any other error is a failure. Next must honor ctx.
type Stream interface {
	Next(ctx context.Context) (types.Fragment, error)
	Close() error
}

// Generator starts generations. Notifications produced while generating
// (tool calls, data blocks) are pushed to sink.
type Generator interface {
	Name() string
	Start(ctx context.Context, req Request, sink source.Sink) (Stream, error)
}

// Factory builds a Generator by provider name.
type Factory func() (Generator, error)

// Registry maps provider names to factories.
type Registry map[string]Factory

// New builds the named generator.
func (r Registry) New(name string) (Generator, error) {
	f, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("unknown generation provider %q", name)
	}
	return f()
}
