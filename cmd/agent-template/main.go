// Package main provides the agent-template entrypoint.
//
// Usage:
//
//	agent-template <command> [subcommand] [options]
//
// serve runs the streaming server; chat and session talk to one. Exit
// codes for chat:
//   - 0: the stream completed
//   - 1: the stream ended with an error status
//   - 2: bad usage, config, or an unreachable server
//   - 3: the stream was cancelled
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/endlesschasey-ai/agent-template/cli/cmd"
	"github.com/endlesschasey-ai/agent-template/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "agent-template",
		Usage:          "Chat agent streaming server and client",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.ChatCommand(),
			cmd.SessionCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// exitErrHandler keeps the exit code of cli.Exit errors and prints their
// message unless it is empty.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitMessage(exitCoder); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// exitMessage returns the printable message of e. cli.Exit("", N) reports
// "exit status N", which is not worth printing.
func exitMessage(e cli.ExitCoder) string {
	msg := e.Error()
	if msg == fmt.Sprintf("exit status %d", e.ExitCode()) {
		return ""
	}
	return msg
}
