package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "mintmarket",
		Usage: "Mint, list, delist and buy tokens on an EVM marketplace",
		Description: `A command-line client for the mintmarket token marketplace.

Market commands run in-process against the ledger configured by the
environment (or --config) unless --server-url points at a mintmarket server.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Market commands
			mintCommand(),
			listCommand(),
			delistCommand(),
			buyCommand(),
			catalogCommand(),
			mineCommand(),
			refreshCommand(),
			historyCommand(),
			// Key management
			walletCommands(),
			// Background resync (server only)
			resyncCommands(),
			// NATS event streaming
			natsCommands(),
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
				},
			},
			versionCommand(),
		},
		// Global flags available to all commands
		Flags: globalFlags(),
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML config file (environment variables take precedence)",
			EnvVars: []string{"CONFIG_FILE"},
		},
		&cli.StringFlag{
			Name:    "server-url",
			Aliases: []string{"s"},
			Usage:   "Run market commands against this server instead of in-process",
			EnvVars: []string{"MINTMARKET_SERVER_URL"},
		},
		&cli.StringFlag{
			Name:    "journal",
			Usage:   "Operation journal URL for in-process runs (default: sqlite under ~/.mintmarket)",
			EnvVars: []string{"MINTMARKET_JOURNAL"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "debug, info, warn, error or none",
			EnvVars: []string{"MINTMARKET_LOG_LEVEL"},
			Value:   "warn",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
		&cli.StringSliceFlag{
			Name:  "jq",
			Usage: "jq filter applied to the JSON output (repeatable, applied in order)",
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
