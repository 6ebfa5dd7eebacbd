package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/escrowdesk/client"
	"github.com/urfave/cli/v2"
)

func watchCommands() *cli.Command {
	return &cli.Command{
		Name:  "watches",
		Usage: "Escrow watch management commands",
		Subcommands: []*cli.Command{
			watchAddCommand(),
			watchRemoveCommand(),
			watchListCommand(),
		},
	}
}

func watchAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Aliases:   []string{"register"},
		Usage:     "Register an escrow for periodic polling",
		ArgsUsage: "ESCROW_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"ESCROWDESK_SERVER_URL"},
			},
			&cli.StringFlag{
				Name:    "network",
				Aliases: []string{"n"},
				Value:   "mainnet",
				Usage:   "Solana network (mainnet or devnet)",
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Aliases: []string{"i"},
				Value:   30 * time.Second,
				Usage:   "How often to poll the escrow account (e.g., 30s, 1m)",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("escrow address is required")
			}

			address := c.Args().Get(0)
			serverURL := c.String("server")
			network := c.String("network")
			pollInterval := c.Duration("poll-interval")
			jsonOutput := c.Bool("json")

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))

			cl := client.NewClient(serverURL, nil, logger)

			if err := cl.RegisterWatch(context.Background(), address, network, pollInterval); err != nil {
				return fmt.Errorf("failed to register watch: %w", err)
			}

			if jsonOutput {
				data, _ := json.Marshal(map[string]interface{}{
					"address":       address,
					"network":       network,
					"poll_interval": pollInterval.String(),
					"status":        "registered",
				})
				fmt.Println(string(data))
			} else {
				fmt.Printf("✓ Watch registered successfully\n")
				fmt.Printf("  Address:       %s\n", address)
				fmt.Printf("  Network:       %s\n", network)
				fmt.Printf("  Poll Interval: %s\n", pollInterval)
			}

			return nil
		},
	}
}

func watchRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm", "delete", "unregister"},
		Usage:     "Unregister an escrow from polling",
		ArgsUsage: "ESCROW_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"ESCROWDESK_SERVER_URL"},
			},
			&cli.StringFlag{
				Name:    "network",
				Aliases: []string{"n"},
				Value:   "mainnet",
				Usage:   "Solana network (mainnet or devnet)",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("escrow address is required")
			}

			address := c.Args().Get(0)
			serverURL := c.String("server")
			network := c.String("network")
			jsonOutput := c.Bool("json")

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))

			cl := client.NewClient(serverURL, nil, logger)

			if err := cl.UnregisterWatch(context.Background(), address, network); err != nil {
				return fmt.Errorf("failed to unregister watch: %w", err)
			}

			if jsonOutput {
				data, _ := json.Marshal(map[string]interface{}{
					"address": address,
					"network": network,
					"status":  "unregistered",
				})
				fmt.Println(string(data))
			} else {
				fmt.Printf("✓ Watch unregistered successfully\n")
				fmt.Printf("  Address: %s\n", address)
				fmt.Printf("  Network: %s\n", network)
			}

			return nil
		},
	}
}

func watchListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List all registered watches (outputs JSON by default)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"ESCROWDESK_SERVER_URL"},
			},
			&cli.BoolFlag{
				Name:    "table",
				Aliases: []string{"t"},
				Usage:   "Output as human-readable table instead of JSON",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq expression to apply to the watch list JSON",
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server")
			tableOutput := c.Bool("table")
			jqExpr := c.String("jq")

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))

			cl := client.NewClient(serverURL, nil, logger)

			watches, err := cl.ListWatches(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list watches: %w", err)
			}

			if jqExpr != "" {
				return printFiltered(watches, jqExpr)
			}

			// Default to JSON output
			if !tableOutput {
				data, _ := json.MarshalIndent(watches, "", "  ")
				fmt.Println(string(data))
			} else {
				if len(watches) == 0 {
					fmt.Println("No watches registered")
					return nil
				}

				fmt.Printf("Found %d watch(es):\n\n", len(watches))
				for _, w := range watches {
					fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
					fmt.Printf("Address:       %s\n", w.Address)
					fmt.Printf("Network:       %s\n", w.Network)
					fmt.Printf("Poll Interval: %s\n", w.PollInterval)
					if w.LastStatus != "" {
						fmt.Printf("Last Status:   %s\n", w.LastStatus)
					}
					if w.LastPollTime != nil {
						fmt.Printf("Last Poll:     %s\n", w.LastPollTime.Format(time.RFC3339))
					} else {
						fmt.Printf("Last Poll:     (never)\n")
					}
					fmt.Println()
				}
				fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			}

			return nil
		},
	}
}
