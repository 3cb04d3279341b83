package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/r3labs/sse/v2"
	"github.com/urfave/cli/v2"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/endlesschasey-ai/agent-template/cli/render"
	"github.com/endlesschasey-ai/agent-template/cli/tui"
	"github.com/endlesschasey-ai/agent-template/types"
)

// errNoTerminal is returned when a stream closes before session_end.
var errNoTerminal = errors.New("stream closed before session_end")

// ChatCommand returns the chat command: it sends one message and renders
// the streamed reply.
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "Send a message and stream the reply",
		ArgsUsage: "MESSAGE...",
		Flags: append(ClientFlags(),
			&cli.StringFlag{
				Name:  "session",
				Usage: "Session ID (a new session is created when empty)",
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "Title of the session created when --session is empty",
			},
			&cli.StringSliceFlag{
				Name:  "file",
				Usage: "Attached file ID (repeatable)",
			},
		),
		Action: chatAction,
	}
}

func chatAction(c *cli.Context) error {
	content := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if content == "" {
		return cli.Exit("a message is required", exitUsage)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newAPIClient(c.String("server"))
	sessionID := c.String("session")
	if sessionID == "" {
		sess, err := client.createSession(ctx, c.String("title"))
		if err != nil {
			return cli.Exit(fmt.Sprintf("create session: %v", err), exitUsage)
		}
		sessionID = sess.SessionID
	}

	streamURL := client.chatURL(sessionID, content, c.StringSlice("file"))
	if r.Interactive() {
		out, err := tui.RunChat(ctx, r.Writer(), r.Styles(), func(ctx context.Context, emit func(*types.Event)) (types.SessionStatus, error) {
			return streamChat(ctx, streamURL, emit)
		})
		if err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
		if out.Interrupted {
			return cli.Exit("", exitCancelled)
		}
		return chatExit(ctx, out.Status, out.Err)
	}

	var handle func(*types.Event)
	if r.Format() == render.FormatTable {
		handle = render.NewEventPrinter(r.Writer(), r.Styles()).Print
	} else {
		handle = jsonLines(r.Writer())
	}
	status, err := streamChat(ctx, streamURL, handle)
	return chatExit(ctx, status, err)
}

// chatExit maps the end of a chat turn to the command's exit code.
func chatExit(ctx context.Context, status types.SessionStatus, err error) error {
	if err != nil {
		if ctx.Err() != nil {
			return cli.Exit("", exitCancelled)
		}
		return cli.Exit(fmt.Sprintf("chat: %v", err), exitUsage)
	}
	if code := statusExitCode(status); code != exitSuccess {
		return cli.Exit("", code)
	}
	return nil
}

// streamChat consumes one EventSource stream until the server closes it and
// returns the terminal status. The stream is never reconnected: a chat turn
// is not idempotent.
func streamChat(ctx context.Context, streamURL string, handle func(*types.Event)) (types.SessionStatus, error) {
	client := sse.NewClient(streamURL)
	client.Connection = &http.Client{}
	client.Headers = map[string]string{
		"Accept":        "text/event-stream",
		"Cache-Control": "no-cache",
	}
	client.ReconnectStrategy = backoff.WithContext(&backoff.StopBackOff{}, ctx)

	var (
		status    types.SessionStatus
		decodeErr error
	)
	err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if len(msg.Data) == 0 || decodeErr != nil {
			return
		}
		var ev types.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			decodeErr = fmt.Errorf("decode event: %w", err)
			return
		}
		handle(&ev)
		if end, ok := ev.Data.(*types.SessionEndPayload); ok {
			status = end.Status
		}
	})
	if err != nil {
		return "", err
	}
	if decodeErr != nil {
		return "", decodeErr
	}
	if status == "" {
		return "", errNoTerminal
	}
	return status, nil
}

// jsonLines writes every event as one compact JSON line.
func jsonLines(w io.Writer) func(*types.Event) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return func(ev *types.Event) { _ = enc.Encode(ev) }
}

func statusExitCode(s types.SessionStatus) int {
	switch s {
	case types.SessionStatusCompleted:
		return exitSuccess
	case types.SessionStatusCancelled:
		return exitCancelled
	}
	return exitStream
}
