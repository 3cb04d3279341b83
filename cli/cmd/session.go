package cmd

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/urfave/cli/v2"

	"github.com/endlesschasey-ai/agent-template/cli/render"
	"github.com/endlesschasey-ai/agent-template/types"
)

// SessionCommand returns the session command group.
func SessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Create and inspect chat sessions on a server",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a session",
				Flags: append(ClientFlags(), &cli.StringFlag{
					Name:  "title",
					Usage: "Session title",
				}),
				Action: sessionCreateAction,
			},
			{
				Name:  "list",
				Usage: "List sessions by last activity",
				Flags: append(ClientFlags(), &cli.IntFlag{
					Name:  "limit",
					Usage: "Maximum number of sessions (server default when 0)",
				}),
				Action: sessionListAction,
			},
			{
				Name:      "show",
				Usage:     "Show a session and its recent messages",
				ArgsUsage: "SESSION_ID",
				Flags: append(ClientFlags(), &cli.IntFlag{
					Name:  "messages",
					Usage: "Number of recent messages to show",
					Value: 20,
				}),
				Action: sessionShowAction,
			},
		},
	}
}

func sessionCreateAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	sess, err := newAPIClient(c.String("server")).createSession(c.Context, c.String("title"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("create session: %v", err), exitUsage)
	}
	return r.Render(sess)
}

func sessionListAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	sessions, err := newAPIClient(c.String("server")).listSessions(c.Context, c.Int("limit"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("list sessions: %v", err), exitUsage)
	}
	return r.Render(sessions)
}

// SessionView is a session with its recent messages.
type SessionView struct {
	types.SessionDetail `yaml:",inline"`
	Messages            []types.Message `json:"messages"`
}

// messageRow is the table form of a message.
type messageRow struct {
	Role      types.Role `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}

const previewRunes = 60

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes]) + "…"
}

func sessionShowAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: session show SESSION_ID", exitUsage)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	client := newAPIClient(c.String("server"))
	id := c.Args().First()

	sess, err := client.getSession(c.Context, id)
	if err != nil {
		return cli.Exit(fmt.Sprintf("get session: %v", err), exitUsage)
	}
	msgs, err := client.listMessages(c.Context, id, c.Int("messages"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("list messages: %v", err), exitUsage)
	}

	if r.Format() != render.FormatTable {
		return r.Render(SessionView{SessionDetail: *sess, Messages: msgs})
	}
	if err := r.Render(sess); err != nil {
		return err
	}
	fmt.Fprintln(r.Writer())
	rows := make([]messageRow, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, messageRow{Role: m.Role, Content: preview(m.Content), CreatedAt: m.CreatedAt})
	}
	return r.Render(rows)
}
