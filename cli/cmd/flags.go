// Package cmd provides CLI commands for the agent-template binary.
package cmd

import "github.com/urfave/cli/v2"

// DefaultServerURL is the server the client commands talk to.
const DefaultServerURL = "http://localhost:8000"

// Exit codes shared by the client commands.
const (
	exitSuccess   = 0
	exitStream    = 1 // the stream ended with status error
	exitUsage     = 2 // bad flags, config, or an unreachable server
	exitCancelled = 3
)

// Shared flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// ServerFlag is the base URL of a running server.
	ServerFlag = &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Server base URL",
		Value:   DefaultServerURL,
		EnvVars: []string{"AGENT_SERVER_URL"},
	}
)

// OutputFlags returns the rendering flags.
func OutputFlags() []cli.Flag {
	return []cli.Flag{FormatFlag, NoColorFlag}
}

// ClientFlags returns the flags of commands that call a server.
func ClientFlags() []cli.Flag {
	return append(OutputFlags(), ServerFlag)
}
