package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"gobridgetracker/client"
	"gobridgetracker/workers/handlers"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "bridgectl",
		Usage:   "Inspect and drive the bridge tracker HTTP API",
		Version: version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"BRIDGE_SERVER_URL"},
			},
			&cli.StringFlag{
				Name:    "owner",
				Aliases: []string{"o"},
				Usage:   "Owner address sent with every request",
				EnvVars: []string{"BRIDGE_OWNER_ADDRESS"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "Request timeout",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log requests to stderr",
			},
		},
		Commands: []*cli.Command{
			chainsCommand(),
			feeCommand(),
			sendCommand(),
			statusCommand(),
			historyCommand(),
			cancelCommand(),
			retryCommand(),
			recoveryCommand(),
		},
	}
}

func newClient(c *cli.Context) *client.Client {
	level := zerolog.ErrorLevel
	if c.Bool("debug") {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	return client.NewClient(c.String("server"), c.String("owner"), nil, logger)
}

func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, c.Duration("timeout"))
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireArgs(c *cli.Context, n int, what string) error {
	if c.NArg() < n {
		return fmt.Errorf("%s is required", what)
	}
	return nil
}

func chainsCommand() *cli.Command {
	return &cli.Command{
		Name:  "chains",
		Usage: "List supported chains and tokens",
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()
			chains, err := newClient(c).Chains(ctx)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(c, chains)
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tNATIVE\tTOKENS")
			for _, chain := range chains {
				fmt.Fprintf(w, "%d\t%s\t%s\t%v\n", chain.ID, chain.Name, chain.NativeSymbol, chain.Tokens)
			}
			return w.Flush()
		},
	}
}

func routeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "from", Usage: "Source chain id", Required: true},
		&cli.IntFlag{Name: "to", Usage: "Destination chain id", Required: true},
		&cli.StringFlag{Name: "token", Usage: "Token symbol", Required: true},
		&cli.StringFlag{Name: "amount", Usage: "Amount in token units", Required: true},
	}
}

func feeCommand() *cli.Command {
	return &cli.Command{
		Name:  "fee",
		Usage: "Estimate the fees and duration of a transfer",
		Flags: routeFlags(),
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()
			est, err := newClient(c).Fee(ctx, c.Int("from"), c.Int("to"), c.String("token"), c.String("amount"))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(c, est)
			}
			fmt.Fprintf(c.App.Writer, "network fee: %s %s\n", est.NetworkFee, est.Token)
			fmt.Fprintf(c.App.Writer, "bridge fee:  %s %s\n", est.BridgeFee, est.Token)
			fmt.Fprintf(c.App.Writer, "total:       %s %s\n", est.TotalFee, est.Token)
			fmt.Fprintf(c.App.Writer, "duration:    %s\n", est.EstimatedDuration)
			return nil
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Initiate a transfer",
		Flags: routeFlags(),
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()
			id, err := newClient(c).Send(ctx, handlers.BridgeRequest{
				SourceChain:      c.Int("from"),
				DestinationChain: c.Int("to"),
				Token:            c.String("token"),
				Amount:           c.String("amount"),
				Owner:            c.String("owner"),
			})
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(c, map[string]string{"id": id})
			}
			fmt.Fprintln(c.App.Writer, id)
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Refresh and show a transfer",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "transaction id"); err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			tx, err := newClient(c).Status(ctx, c.Args().Get(0))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(c, tx)
			}
			fmt.Fprintf(c.App.Writer, "%s %s %s %s %d -> %d\n", tx.ID, tx.Status, tx.Amount, tx.Token, tx.SourceChain, tx.DestinationChain)
			if tx.DestinationTxHash != "" {
				fmt.Fprintf(c.App.Writer, "destination tx: %s\n", tx.DestinationTxHash)
			}
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List the transfers of the owner, most recent first",
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()
			hist, err := newClient(c).History(ctx)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(c, hist)
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tAMOUNT\tROUTE\tCREATED")
			for _, tx := range hist {
				fmt.Fprintf(w, "%s\t%s\t%s %s\t%d->%d\t%s\n", tx.ID, tx.Status, tx.Amount, tx.Token, tx.SourceChain, tx.DestinationChain, tx.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a pending transfer",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "transaction id"); err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			if err := newClient(c).Cancel(ctx, c.Args().Get(0)); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "cancelled")
			return nil
		},
	}
}

func retryCommand() *cli.Command {
	return &cli.Command{
		Name:      "retry",
		Usage:     "Re-initiate a failed transfer",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "transaction id"); err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			id, err := newClient(c).Retry(ctx, c.Args().Get(0))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, id)
			return nil
		},
	}
}

func recoveryCommand() *cli.Command {
	return &cli.Command{
		Name:  "recovery",
		Usage: "Show recovery actions, or run one",
		Subcommands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Execute a recovery action",
				ArgsUsage: "ACTION_ID",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1, "action id"); err != nil {
						return err
					}
					ctx, cancel := requestContext(c)
					defer cancel()
					result, err := newClient(c).Execute(ctx, c.Args().Get(0))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "done %s\n", result)
					return nil
				},
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()
			report, err := newClient(c).Recovery(ctx)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(c, report)
			}
			fmt.Fprintf(c.App.Writer, "failed %d, stuck %d, unpersisted %d\n", len(report.Failed), len(report.Stuck), len(report.Unpersisted))
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACTION\tSEVERITY\tDESCRIPTION")
			for _, action := range report.Actions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", action.ID, action.Severity, action.Description)
			}
			return w.Flush()
		},
	}
}
