package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/stint/internal/app"
	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/ops"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(a *app.App) *cli.App {
	cliApp := &cli.App{
		Name:    "stint",
		Usage:   "Focus sessions, notes and tasks",
		Version: Version,
		Commands: []*cli.Command{
			startCmd(a),
			pauseCmd(a),
			resumeCmd(a),
			stopCmd(a),
			discardCmd(a),
			statusCmd(a),
			listCmd(a),
			exportCmd(a),
			noteCmd(a),
			taskCmd(a),
			loginCmd(a),
			logoutCmd(a),
			migrateCmd(a),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

func startCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a focus session",
		ArgsUsage: "[goal]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "goal", Aliases: []string{"g"}, Usage: "What the session is for"},
			&cli.IntFlag{Name: "minutes", Aliases: []string{"m"}, Usage: "Planned length in minutes (time-boxed)"},
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Usage: "Planned length, e.g. 25m or 1h30m (time-boxed)"},
			&cli.StringFlag{Name: "type", Usage: "Session type: time-boxed|open (inferred when omitted)"},
			&cli.StringFlag{Name: "tags", Aliases: []string{"t"}, Usage: "Comma-separated tags"},
		},
		Action: func(c *cli.Context) error {
			planned, err := plannedSeconds(c)
			if err != nil {
				return outputError(err)
			}
			goal := c.String("goal")
			if goal == "" && c.NArg() > 0 {
				goal = strings.Join(c.Args().Slice(), " ")
			}

			output, err := ops.Start(c.Context, a, ops.StartInput{
				Goal:                   goal,
				Type:                   c.String("type"),
				PlannedDurationSeconds: planned,
				Tags:                   parseTags(c.String("tags")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// plannedSeconds reads --minutes or --duration; setting both is an error.
func plannedSeconds(c *cli.Context) (*int64, error) {
	switch {
	case c.IsSet("minutes") && c.IsSet("duration"):
		return nil, errors.NewInvalidRequest("use either --minutes or --duration, not both")
	case c.IsSet("minutes"):
		secs := int64(c.Int("minutes")) * 60
		return &secs, nil
	case c.IsSet("duration"):
		secs := int64(c.Duration("duration") / time.Second)
		return &secs, nil
	}
	return nil, nil
}

func pauseCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "pause",
		Usage: "Pause the active session",
		Action: func(c *cli.Context) error {
			out, err := ops.Pause(c.Context, a)
			return result(c, out, err)
		},
	}
}

func resumeCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Resume the paused session",
		Action: func(c *cli.Context) error {
			out, err := ops.Resume(c.Context, a)
			return result(c, out, err)
		},
	}
}

func stopCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "stop",
		Usage: "Complete the live session",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "rating", Aliases: []string{"r"}, Usage: "Self rating 1-5"},
			&cli.StringFlag{Name: "notes", Aliases: []string{"n"}, Usage: "Markdown notes (use - to read stdin)"},
		},
		Action: func(c *cli.Context) error {
			input := ops.StopInput{}
			if c.IsSet("rating") {
				rating := c.Int("rating")
				input.Rating = &rating
			}
			if c.IsSet("notes") {
				notes, err := textOrStdin(c.String("notes"))
				if err != nil {
					return outputError(err)
				}
				input.Notes = &notes
			}
			out, err := ops.Stop(c.Context, a, input)
			return result(c, out, err)
		},
	}
}

func discardCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "discard",
		Usage: "Throw away the live session",
		Action: func(c *cli.Context) error {
			out, err := ops.Discard(c.Context, a)
			return result(c, out, err)
		},
	}
}

func statusCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the live session and identity mode",
		Action: func(c *cli.Context) error {
			out, err := ops.Status(c.Context, a)
			return result(c, out, err)
		},
	}
}

func listCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List sessions, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "Start of range (RFC3339, YYYY-MM-DD or e.g. 'last monday')"},
			&cli.StringFlag{Name: "to", Usage: "End of range"},
			&cli.StringFlag{Name: "tag", Usage: "Only sessions with this tag"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max sessions (max 500)"},
		},
		Action: func(c *cli.Context) error {
			out, err := ops.List(c.Context, a, ops.ListInput{
				From:  c.String("from"),
				To:    c.String("to"),
				Tag:   c.String("tag"),
				Limit: c.Int("limit"),
			})
			return result(c, out, err)
		},
	}
}

func exportCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export sessions, notes and tasks",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Output file (default ~/.stint/exports/<tag|all>-<timestamp>.<format>)"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: ops.FormatJSONL, Usage: "jsonl|html"},
			&cli.StringFlag{Name: "from", Usage: "Start of range"},
			&cli.StringFlag{Name: "to", Usage: "End of range"},
			&cli.StringFlag{Name: "tag", Usage: "Only sessions with this tag"},
		},
		Action: func(c *cli.Context) error {
			out, err := ops.Export(c.Context, a, ops.ExportInput{
				Path:   c.String("path"),
				Format: strings.ToLower(c.String("format")),
				From:   c.String("from"),
				To:     c.String("to"),
				Tag:    c.String("tag"),
			})
			return result(c, out, err)
		},
	}
}

func noteCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "note",
		Usage: "Markdown notes",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add a note",
				ArgsUsage: "[title]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Note title"},
					&cli.StringFlag{Name: "body", Aliases: []string{"b"}, Usage: "Markdown body (use - to read stdin)"},
				},
				Action: func(c *cli.Context) error {
					title := c.String("title")
					if title == "" {
						title = strings.Join(c.Args().Slice(), " ")
					}
					body, err := textOrStdin(c.String("body"))
					if err != nil {
						return outputError(err)
					}
					out, err := ops.AddNote(c.Context, a, ops.AddNoteInput{Title: title, Body: body})
					return result(c, out, err)
				},
			},
			{
				Name:  "list",
				Usage: "List notes",
				Action: func(c *cli.Context) error {
					out, err := ops.ListNotes(c.Context, a)
					return result(c, out, err)
				},
			},
		},
	}
}

func taskCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "task",
		Usage: "Simple task list",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add an open task",
				ArgsUsage: "<title>",
				Action: func(c *cli.Context) error {
					title := strings.Join(c.Args().Slice(), " ")
					out, err := ops.AddTask(c.Context, a, ops.AddTaskInput{Title: title})
					return result(c, out, err)
				},
			},
			{
				Name:      "done",
				Usage:     "Mark a task done (guest mode)",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "undo", Usage: "Reopen the task instead"},
				},
				Action: func(c *cli.Context) error {
					out, err := ops.SetTaskDone(c.Context, a, ops.SetTaskDoneInput{
						ID:   c.Args().First(),
						Done: !c.Bool("undo"),
					})
					return result(c, out, err)
				},
			},
			{
				Name:  "list",
				Usage: "List tasks",
				Action: func(c *cli.Context) error {
					out, err := ops.ListTasks(c.Context, a)
					return result(c, out, err)
				},
			},
		},
	}
}

func loginCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in to a stint server and move guest data into the account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, EnvVars: []string{"STINT_SERVER"}, Usage: "Server base URL"},
			&cli.StringFlag{Name: "token", EnvVars: []string{"STINT_TOKEN"}, Usage: "Bearer token"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Login(c.Context, a, ops.LoginInput{
				Server: c.String("server"),
				Token:  c.String("token"),
			})
			if output != nil {
				// Logged in even if migration failed; show what happened
				if jerr := outputJSON(c, output); jerr != nil {
					return jerr
				}
			}
			if err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

func logoutCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Forget the token and return to guest mode",
		Action: func(c *cli.Context) error {
			out, err := ops.Logout(c.Context, a)
			return result(c, out, err)
		},
	}
}

func migrateCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Retry moving guest data into the account",
		Action: func(c *cli.Context) error {
			out, err := ops.Migrate(c.Context, a)
			return result(c, out, err)
		},
	}
}

// Helper functions

// result prints a successful result as JSON or maps the error to an exit.
func result(c *cli.Context, v any, err error) error {
	if err != nil {
		return outputError(err)
	}
	return outputJSON(c, v)
}

// outputJSON marshals result to the app's writer as JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if se, ok := errors.As(err); ok {
		if se.Code == errors.ErrInternal {
			return cli.Exit(fmt.Sprintf("[%s] an internal error occurred", se.Code), 1)
		}
		return cli.Exit(fmt.Sprintf("[%s] %s", se.Code, se.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// textOrStdin returns s, or all of stdin when s is "-".
func textOrStdin(s string) (string, error) {
	if s != "-" {
		return s, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseTags splits a comma-separated string into a slice of tags.
func parseTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
