// Package main provides agent-generator, a reference generation process for
// the exec provider.
//
// Usage:
//
//	agent-generator [--delay 50ms]
//
// It reads one JSON request from stdin, replays the echo script, and writes
// ipc frames to stdout. Exit codes:
//   - 0: production finished
//   - 1: generation failed (an error frame was written)
//   - 2: the request could not be read
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/endlesschasey-ai/agent-template/generation"
	"github.com/endlesschasey-ai/agent-template/ipc"
	"github.com/endlesschasey-ai/agent-template/types"
)

const (
	exitSuccess    = 0
	exitGenerate   = 1
	exitBadRequest = 2
)

func main() {
	app := &cli.App{
		Name:    "agent-generator",
		Usage:   "Reference generation process speaking the ipc frame protocol",
		Version: types.Version,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "delay",
				Usage: "Delay before each scripted step",
				Value: 0,
			},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return cli.Exit("", generate(ctx, os.Stdin, os.Stdout, c.Duration("delay")))
		},
		ExitErrHandler: exitErrHandler,
	}
	if err := app.Run(os.Args); err != nil {
		os.Exit(exitGenerate)
	}
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		os.Exit(exitCoder.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitGenerate)
}

// frameSink forwards notifications as frames. Write errors surface on the
// next fragment write.
type frameSink struct {
	enc *ipc.FrameEncoder
	err error
}

func (s *frameSink) Push(n types.Notification) {
	if err := s.enc.WriteNotification(n); err != nil && s.err == nil {
		s.err = err
	}
}

// generate runs one request and returns the process exit code.
func generate(ctx context.Context, in io.Reader, out io.Writer, delay time.Duration) int {
	var input ipc.Input
	if err := json.NewDecoder(in).Decode(&input); err != nil {
		fmt.Fprintf(os.Stderr, "read request: %v\n", err)
		return exitBadRequest
	}

	enc := ipc.NewFrameEncoder(out)
	sink := &frameSink{enc: enc}
	gen := generation.NewScripted(generation.EchoScript(delay))
	stream, err := gen.Start(ctx, generation.Request{
		SessionID: input.SessionID,
		RequestID: input.RequestID,
		Input:     input.Input,
		History:   input.History,
	}, sink)
	if err != nil {
		_ = enc.WriteError(err.Error())
		return exitGenerate
	}
	defer stream.Close()

	for {
		frag, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = enc.WriteError(err.Error())
			return exitGenerate
		}
		if err := enc.WriteFragment(frag.Text); err != nil {
			fmt.Fprintf(os.Stderr, "write fragment: %v\n", err)
			return exitGenerate
		}
		if sink.err != nil {
			fmt.Fprintf(os.Stderr, "write notification: %v\n", sink.err)
			return exitGenerate
		}
	}
	return exitSuccess
}
