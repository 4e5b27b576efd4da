// Command inspect prints what the engine stored in Badger: conversations,
// messages, read watermarks and notification jobs. It opens the database read-only.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	if err := app().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the chat-sync Badger database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Path to the Badger directory",
				Value:   "./data",
				Sources: cli.EnvVars("BADGER_FILEPATH"),
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored output",
			},
		},
		Commands: []*cli.Command{
			conversationsCommand(),
			messagesCommand(),
			readsCommand(),
			jobsCommand(),
		},
	}
}
