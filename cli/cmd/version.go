package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/endlesschasey-ai/agent-template/cli/render"
	"github.com/endlesschasey-ai/agent-template/types"
)

// VersionResponse is the output of the version command.
type VersionResponse struct {
	Version  string `json:"version"`
	Protocol string `json:"protocol"`
	Commit   string `json:"commit"`
}

// VersionCommand returns the version command. It never contacts a server.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: OutputFlags(),
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return cli.Exit(err.Error(), exitUsage)
			}
			return r.Render(VersionResponse{
				Version:  types.Version,
				Protocol: types.ProtocolVersion,
				Commit:   commit,
			})
		},
	}
}
