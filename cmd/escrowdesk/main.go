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

func main() {
	app := &cli.App{
		Name:  "escrowdesk",
		Usage: "Solana token-swap escrow inspection CLI",
		Description: `A command-line tool for inspecting token-swap escrows and managing the
escrowdesk service.

Use this CLI to view escrow state, quote fills, estimate transaction costs,
manage poll watches, and stream escrow events.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Escrow inspection commands (HTTP API)
			escrowCommands(),
			// Cost estimation commands (HTTP API)
			costCommands(),
			// Watch management commands (HTTP API)
			watchCommands(),
			// NATS event streaming commands
			{
				Name:  "nats",
				Usage: "NATS escrow event streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Server URL for health checks",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
