package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/brojonat/escrowdesk/client"
	"github.com/urfave/cli/v2"
)

func costCommands() *cli.Command {
	return &cli.Command{
		Name:  "cost",
		Usage: "Transaction cost estimation commands",
		Subcommands: []*cli.Command{
			costCreateCommand(),
			costExchangeCommand(),
		},
	}
}

func costCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Estimate the lamport cost of creating an escrow",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"ESCROWDESK_SERVER_URL"},
			},
			&cli.StringFlag{
				Name:     "maker",
				Aliases:  []string{"m"},
				Usage:    "Maker wallet address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "deposit-mint",
				Usage:    "Mint of the token being deposited",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "request-mint",
				Usage:    "Mint of the token being requested",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server")
			maker := c.String("maker")
			depositMint := c.String("deposit-mint")
			requestMint := c.String("request-mint")
			jsonOutput := c.Bool("json")

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))

			cl := client.NewClient(serverURL, nil, logger)

			estimate, err := cl.CreationCost(context.Background(), maker, depositMint, requestMint)
			if err != nil {
				return fmt.Errorf("failed to estimate creation cost: %w", err)
			}

			printCostEstimate(estimate, "Escrow Creation Cost", jsonOutput)
			return nil
		},
	}
}

func costExchangeCommand() *cli.Command {
	return &cli.Command{
		Name:      "exchange",
		Usage:     "Estimate the lamport cost of exchanging against an escrow",
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
				Name:     "taker",
				Aliases:  []string{"t"},
				Usage:    "Taker wallet address",
				Required: true,
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
			taker := c.String("taker")
			jsonOutput := c.Bool("json")

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))

			cl := client.NewClient(serverURL, nil, logger)

			estimate, err := cl.ExchangeCost(context.Background(), address, taker)
			if err != nil {
				return fmt.Errorf("failed to estimate exchange cost: %w", err)
			}

			printCostEstimate(estimate, "Exchange Cost", jsonOutput)
			return nil
		},
	}
}

func printCostEstimate(estimate *client.CostEstimate, title string, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(estimate, "", "  ")
		fmt.Println(string(data))
		return
	}

	if estimate.Unavailable || estimate.Breakdown == nil {
		fmt.Println("Cost estimate is unavailable (RPC fee queries failed)")
		return
	}

	b := estimate.Breakdown
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println(title)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	for _, item := range b.Items {
		marker := " "
		if item.Recoverable {
			marker = "↩"
		}
		fmt.Printf("%s %-40s %12d lamports (%.6f SOL)\n",
			marker, item.Label, item.Lamports, float64(item.Lamports)/1e9)
	}
	fmt.Println("────────────────────────────────────────────────────────────────────────")
	fmt.Printf("  %-40s %12d lamports (%.6f SOL)\n", "Total", b.Total, float64(b.Total)/1e9)
	fmt.Printf("  %-40s %12d lamports\n", "Recoverable (rent refunds)", b.Recoverable)
	fmt.Printf("  %-40s %12d lamports\n", "Non-recoverable", b.NonRecoverable)
	if b.ContractFeeInfo > 0 {
		fmt.Printf("  %-40s %12d lamports (settled in swap, not in total)\n",
			"Program exchange fee (info)", b.ContractFeeInfo)
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}
