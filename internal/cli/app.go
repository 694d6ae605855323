// Package cli exposes the intent dispatcher on the command line. Result
// envelopes are printed as JSON so the binary composes with other tooling.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/lLiuRunze/mail-agent/pkg/tasks"
)

// NewApp builds the command-line application around a dispatcher. Output is
// written to out so tests can capture it.
func NewApp(dispatcher *tasks.Dispatcher, logger *slog.Logger, out io.Writer) *cli.App {
	return &cli.App{
		Name:   "mailagent",
		Usage:  "mailbox automation driven by intent commands",
		Writer: out,
		Commands: []*cli.Command{
			{
				Name:   "intents",
				Usage:  "List the intent tags this agent understands",
				Action: listIntents(dispatcher, out),
			},
			{
				Name:      "exec",
				Usage:     "Execute one intent with key=value or JSON parameters",
				ArgsUsage: "INTENT [key=value ... | JSON]",
				Action:    execIntent(dispatcher, logger, out),
			},
			{
				Name:  "list",
				Usage: "List recent messages in a folder",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "folder", Value: "inbox", Usage: "folder role or name"},
					&cli.IntFlag{Name: "count", Value: 10, Usage: "number of messages"},
					&cli.IntFlag{Name: "days", Value: 0, Usage: "lookback window in days"},
				},
				Action: listMessages(dispatcher, out),
			},
		},
	}
}

func listIntents(dispatcher *tasks.Dispatcher, out io.Writer) cli.ActionFunc {
	return func(c *cli.Context) error {
		intents := dispatcher.Intents()
		sort.Strings(intents)
		for _, intent := range intents {
			fmt.Fprintln(out, intent) //nolint:errcheck
		}
		return nil
	}
}

func execIntent(dispatcher *tasks.Dispatcher, logger *slog.Logger, out io.Writer) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() < 1 {
			return errors.New("exec requires an intent tag")
		}
		intent := c.Args().First()
		params, err := parseParams(c.Args().Tail())
		if err != nil {
			return err
		}
		logger.Debug("dispatching intent", slog.String("intent", intent))

		result := dispatcher.Execute(c.Context, intent, params)
		return printResult(out, result)
	}
}

func listMessages(dispatcher *tasks.Dispatcher, out io.Writer) cli.ActionFunc {
	return func(c *cli.Context) error {
		result := dispatcher.Execute(c.Context, "list_emails", tasks.Params{
			"folder": c.String("folder"),
			"count":  c.Int("count"),
			"days":   c.Int("days"),
		})
		return printResult(out, result)
	}
}

// parseParams accepts either a single JSON object argument or a sequence of
// key=value pairs. Repeated keys accumulate into a list.
func parseParams(args []string) (tasks.Params, error) {
	params := tasks.Params{}
	if len(args) == 1 && strings.HasPrefix(strings.TrimSpace(args[0]), "{") {
		if err := json.Unmarshal([]byte(args[0]), &params); err != nil {
			return nil, errors.Wrap(err, "parsing JSON parameters")
		}
		return params, nil
	}

	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found || key == "" {
			return nil, errors.Errorf("malformed parameter %q, want key=value", arg)
		}
		if existing, ok := params[key]; ok {
			switch prev := existing.(type) {
			case []any:
				params[key] = append(prev, value)
			default:
				params[key] = []any{prev, value}
			}
			continue
		}
		params[key] = value
	}
	return params, nil
}

func printResult(out io.Writer, result tasks.Result) error {
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding result")
	}
	fmt.Fprintln(out, string(encoded)) //nolint:errcheck
	if !result.Success {
		return cli.Exit("", 1)
	}
	return nil
}

// Run executes the application with the given arguments.
func Run(ctx context.Context, app *cli.App, args []string) error {
	return app.RunContext(ctx, args)
}
