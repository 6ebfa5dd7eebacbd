package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/escrowdesk/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to poll events for an escrow.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to poll events for an escrow",
		ArgsUsage: "[escrow_address]",
		Description: `Subscribe to escrow change events published to NATS JetStream.

This command connects to NATS and streams change events for the specified
escrow address. Events are published to the subject: escrows.{escrow_address}

Example:
  escrowdesk nats subscribe 7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2 --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "escrowdesk-cli",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("escrow address is required")
			}

			address := c.Args().Get(0)
			natsURL := c.String("nats-url")
			durable := c.Bool("durable")
			consumerName := c.String("consumer-name")
			jsonOutput := c.Bool("json")

			return streamEscrowEvents(address, natsURL, durable, consumerName, jsonOutput)
		},
	}
}

// streamEscrowEvents connects to NATS and streams escrow change events.
func streamEscrowEvents(address, natsURL string, durable bool, consumerName string, jsonOutput bool) error {
	// Connect to NATS
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := fmt.Sprintf("escrows.%s", address)

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for escrow events... (Ctrl-C to exit)\n\n")
	}

	// Create consumer config
	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}

	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	// Create or update consumer
	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Receive messages
	msgChan := make(chan jetstream.Msg, 10)

	// Start consuming in background
	go func() {
		_, _ = cons.Consume(func(msg jetstream.Msg) {
			msgChan <- msg
		})
	}()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.EscrowEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				}
				msg.Ack()
				continue
			}

			count++

			if jsonOutput {
				// Output raw JSON
				data, _ := json.Marshal(event)
				fmt.Println(string(data))
			} else {
				// Human-friendly output
				fmt.Printf("─────────────────────────────────────────────────────\n")
				fmt.Printf("Escrow Event #%d\n", count)
				fmt.Printf("─────────────────────────────────────────────────────\n")
				fmt.Printf("Escrow:       %s\n", event.Address)
				fmt.Printf("Network:      %s\n", event.Network)
				if event.PreviousStatus != "" && event.PreviousStatus != event.Status {
					fmt.Printf("Status:       %s → %s\n", event.PreviousStatus, event.Status)
				} else {
					fmt.Printf("Status:       %s\n", event.Status)
				}
				fmt.Printf("Remaining:    %g (raw %d)\n", event.DepositRemaining, event.RawDepositRemaining)
				fmt.Printf("Requesting:   %g\n", event.RequestAmount)
				fmt.Printf("Observed:     %s\n", event.ObservedAt.Format(time.RFC3339))
				fmt.Printf("Published:    %s\n", event.PublishedAt.Format(time.RFC3339))
				fmt.Printf("\n")
			}

			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\n\n✅ Received %d event(s)\n", count)
				fmt.Println("Shutting down...")
			}
			return nil
		}
	}
}
