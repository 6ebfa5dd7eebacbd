package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/brojonat/escrowdesk/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func escrowCommands() *cli.Command {
	return &cli.Command{
		Name:  "escrow",
		Usage: "Escrow inspection commands",
		Subcommands: []*cli.Command{
			escrowViewCommand(),
			escrowQuoteCommand(),
			escrowWatchCommand(),
		},
	}
}

func escrowViewCommand() *cli.Command {
	return &cli.Command{
		Name:      "view",
		Aliases:   []string{"get", "show"},
		Usage:     "View the current state of an escrow account",
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
				Name:  "jq",
				Usage: "jq expression to apply to the escrow JSON (implies JSON output)",
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
			jqExpr := c.String("jq")
			jsonOutput := c.Bool("json")

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))

			cl := client.NewClient(serverURL, nil, logger)

			esc, err := cl.GetEscrow(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to get escrow: %w", err)
			}

			if jqExpr != "" {
				return printFiltered(esc, jqExpr)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(esc, "", "  ")
				fmt.Println(string(data))
			} else {
				printEscrowDetailed(esc)
			}

			return nil
		},
	}
}

func escrowQuoteCommand() *cli.Command {
	return &cli.Command{
		Name:      "quote",
		Usage:     "Validate a fill amount against an escrow and preview the exchange",
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
				Name:     "wallet",
				Aliases:  []string{"w"},
				Usage:    "Taker wallet address (balance is checked against it)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "Fill amount in request-token units (e.g. 150 or 0.5)",
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
			wallet := c.String("wallet")
			amount := c.String("amount")
			jsonOutput := c.Bool("json")

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))

			cl := client.NewClient(serverURL, nil, logger)

			quote, err := cl.FillQuote(context.Background(), address, wallet, amount)
			if err != nil {
				return fmt.Errorf("failed to get fill quote: %w", err)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(quote, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			if quote.Valid {
				fmt.Printf("✓ Fill amount is valid\n")
				fmt.Printf("  Escrow:           %s\n", quote.Address)
				fmt.Printf("  Amount:           %s\n", quote.Amount)
				fmt.Printf("  Max Fill:         %s\n", quote.MaxFillText)
				fmt.Printf("  Expected Receive: %g\n", quote.ExpectedReceive)
				if quote.Plan != nil {
					fmt.Printf("  Pay (raw):        %s\n", quote.Plan.PayAmount)
					fmt.Printf("  Receive (raw):    %s\n", quote.Plan.ReceiveAmount)
					if quote.Plan.FullFill {
						fmt.Printf("  Full fill:        yes (escrow will close)\n")
					}
				}
			} else {
				fmt.Printf("✗ Fill amount is invalid: %s\n", quote.Error)
				fmt.Printf("  Max Fill: %s\n", quote.MaxFillText)
			}

			return nil
		},
	}
}

// escrowWatchCommand is a shorthand for "watches add".
func escrowWatchCommand() *cli.Command {
	cmd := watchAddCommand()
	cmd.Name = "watch"
	cmd.Aliases = nil
	cmd.Usage = "Register this escrow for periodic polling"
	return cmd
}

func printEscrowDetailed(esc *client.Escrow) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("Escrow Details")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Address:           %s\n", esc.Address)
	fmt.Printf("Status:            %s\n", esc.Status)
	fmt.Printf("Offering:          %s %s (of %s total)\n",
		esc.DepositRemainingText, tokenLabel(esc.DepositToken), esc.DepositAmountText)
	fmt.Printf("Requesting:        %s %s\n", esc.RequestAmountText, tokenLabel(esc.RequestToken))
	fmt.Printf("Price:             %s %s per %s\n",
		esc.PriceText, tokenLabel(esc.RequestToken), tokenLabel(esc.DepositToken))
	if esc.PublicRecipient {
		fmt.Printf("Recipient:         anyone\n")
	} else {
		fmt.Printf("Recipient:         restricted\n")
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// tokenLabel prefers the symbol and falls back to a shortened mint.
func tokenLabel(info client.TokenInfo) string {
	if info.Symbol != "" {
		return info.Symbol
	}
	if len(info.Mint) > 8 {
		return info.Mint[:4] + ".." + info.Mint[len(info.Mint)-4:]
	}
	return info.Mint
}

// printFiltered marshals v to JSON, runs the jq expression over it, and
// prints each result on its own line.
func printFiltered(v interface{}, jqExpr string) error {
	query, err := gojq.Parse(jqExpr)
	if err != nil {
		return fmt.Errorf("failed to parse jq expression %q: %w", jqExpr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq expression %q: %w", jqExpr, err)
	}

	// Round-trip through JSON so gojq sees plain maps and slices.
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}

	iter := code.Run(doc)
	for {
		result, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := result.(error); isErr {
			return fmt.Errorf("jq evaluation error: %w", err)
		}
		out, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal jq result: %w", err)
		}
		fmt.Println(string(out))
	}

	return nil
}
