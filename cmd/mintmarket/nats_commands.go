package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/mintmarket/service/market"
	natspkg "github.com/brojonat/mintmarket/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func natsCommands() *cli.Command {
	return &cli.Command{
		Name:  "nats",
		Usage: "NATS event streaming commands",
		Subcommands: []*cli.Command{
			subscribeCommand(),
		},
	}
}

// subscribeCommand streams operation and view events from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Stream operation and view events",
		Description: `Subscribe to real-time events published to NATS JetStream.

Operation events are published to mint.ops.{account} and view refresh events
to mint.views.{view}.

Examples:
  mintmarket nats subscribe
  mintmarket nats subscribe --kind operations --account 0xf39F...
  mintmarket nats subscribe --kind views --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "operations, views or all",
				Value: "all",
			},
			&cli.StringFlag{
				Name:  "account",
				Usage: "Only operations by this account (requires --kind operations)",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Exit after this many events (0 streams until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			subject, err := natspkg.FilterSubject(c.String("kind"), market.Account(c.String("account")))
			if err != nil {
				return err
			}
			return streamEvents(c, c.String("nats-url"), subject, c.Int("count"))
		},
	}
}

// streamEvents connects to NATS and prints events until interrupted.
func streamEvents(c *cli.Context, natsURL, subject string, limit int) error {
	nc, js, err := natspkg.Connect(natsURL, "mintmarket-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	jsonOutput := c.Bool("json")
	w := c.App.Writer
	if !jsonOutput {
		fmt.Fprintf(w, "📡 Subscribing to: %s\n", subject)
		fmt.Fprintf(w, "   NATS: %s\n", natsURL)
		fmt.Fprintf(w, "\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case msgChan <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}
	defer cc.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			if err := printEvent(w, msg.Subject(), msg.Data(), jsonOutput); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
			} else {
				count++
			}
			msg.Ack()
			if limit > 0 && count >= limit {
				return nil
			}

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(w, "\n\n✅ Received %d events\n", count)
			}
			return nil
		}
	}
}

// printEvent renders one JetStream message.
func printEvent(w io.Writer, subject string, data []byte, jsonOutput bool) error {
	kind := natspkg.EventKind(subject)
	if jsonOutput {
		if !json.Valid(data) {
			return fmt.Errorf("event on %s is not valid JSON", subject)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	switch kind {
	case natspkg.EventKindOperation:
		var event natspkg.OperationEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		op := event.Operation
		fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Operation %s\n", op.ID)
		fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Action:       %s\n", op.Tag)
		fmt.Fprintf(w, "Account:      %s\n", op.Account)
		fmt.Fprintf(w, "Status:       %s\n", op.Status)
		if op.TokenID != nil {
			fmt.Fprintf(w, "Token:        #%s\n", op.TokenID)
		}
		if op.Price != nil {
			fmt.Fprintf(w, "Price:        %s ETH\n", op.Price)
		}
		if op.TxHash != "" {
			fmt.Fprintf(w, "Tx:           %s\n", op.TxHash)
		}
		if op.Error != "" {
			fmt.Fprintf(w, "Error:        %s\n", op.Error)
		}
		fmt.Fprintf(w, "Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))

	case natspkg.EventKindView:
		var event natspkg.ViewEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "View %s rebuilt\n", event.View)
		fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
		if !event.Account.IsZero() {
			fmt.Fprintf(w, "Account:      %s\n", event.Account)
		}
		fmt.Fprintf(w, "Size:         %d\n", event.Size)
		fmt.Fprintf(w, "Updated:      %s\n\n", event.UpdatedAt.Format(time.RFC3339))

	default:
		return fmt.Errorf("unexpected subject %s", subject)
	}
	return nil
}
