package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"
)

var contextFlagDef = &cli.StringFlag{
	Name:    "context",
	Usage:   "context document as JSON, or @file",
	Aliases: []string{"c"},
}

var imageFlag = &cli.StringFlag{
	Name:  "image",
	Usage: "run the function from this container image instead",
}

var dumpFlag = &cli.BoolFlag{
	Name:  "dump",
	Usage: "pretty-print response values",
}

func main() {
	cmd := &cli.Command{
		Name:  "apexrt",
		Usage: "invoke functions built on the apexrt harness",
		Commands: []*cli.Command{
			{
				Name:      "invoke",
				Usage:     "run a function binary and invoke it with the JSON documents read from stdin",
				ArgsUsage: "binary [args...]",
				Flags: []cli.Flag{
					contextFlagDef,
					dumpFlag,
					imageFlag,
					&cli.BoolFlag{
						Name:  "quiet",
						Usage: "discard function logs",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					rawContext, err := contextFlag(cmd.String("context"))
					if err != nil {
						return err
					}
					opts := invokeOptions{
						context: rawContext,
						dump:    cmd.Bool("dump"),
						logs:    os.Stderr,
					}
					if cmd.Bool("quiet") {
						opts.logs = io.Discard
					}
					if image := cmd.String("image"); image != "" {
						return invokeImage(ctx, image, opts, input(), os.Stdout)
					}
					if cmd.Args().Len() < 1 {
						return fmt.Errorf("missing function binary")
					}
					return invokeBinary(ctx, cmd.Args().First(), cmd.Args().Tail(), opts, input(), os.Stdout)
				},
			},
			{
				Name:  "call",
				Usage: "invoke a function served over gRPC with the JSON documents read from stdin",
				Flags: []cli.Flag{
					contextFlagDef,
					dumpFlag,
					imageFlag,
					&cli.StringFlag{
						Name:  "address",
						Value: "localhost:50052",
						Usage: "address of the function",
					},
					&cli.DurationFlag{
						Name:    "timeout",
						Usage:   "example: 30s, 1m, 1h",
						Aliases: []string{"t"},
						Value:   30 * time.Second,
					},
					&cli.Int64Flag{
						Name:  "retries",
						Usage: "retries after a failed call",
						Value: 0,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					rawContext, err := contextFlag(cmd.String("context"))
					if err != nil {
						return err
					}
					return callAddress(ctx, callOptions{
						address: cmd.String("address"),
						image:   cmd.String("image"),
						context: rawContext,
						timeout: cmd.Duration("timeout"),
						retries: int(cmd.Int64("retries")),
						dump:    cmd.Bool("dump"),
					}, input(), os.Stdout)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// input is stdin, or an empty event when stdin is a terminal.
func input() io.Reader {
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return bytes.NewReader([]byte("{}"))
	}
	return os.Stdin
}
