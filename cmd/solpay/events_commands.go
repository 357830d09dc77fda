package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/brojonat/solpay/client"
	natspkg "github.com/brojonat/solpay/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func eventFilterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "must-jq",
			Usage:   "jq filter over the event JSON that must evaluate to true (can be specified multiple times, all must match)",
			Aliases: []string{"jq"},
		},
		&cli.BoolFlag{
			Name:  "until-settled",
			Usage: "Exit after the first matching terminal event (confirmed, finalized, expired or rejected)",
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream payment events from the solpay server (SSE)",
		ArgsUsage: "[signature]",
		Description: `Stream payment lifecycle events over server-sent events.

Without a signature every payment is followed. Filters are jq expressions
evaluated against each event.

Example:
  solpay events watch --jq '.memo == "order-42"' --until-settled`,
		Flags: eventFilterFlags(),
		Action: func(c *cli.Context) error {
			filters, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			ctx := cancelOnSignal(c.Context)
			jsonOutput := c.Bool("json")
			untilSettled := c.Bool("until-settled")
			signature := c.Args().First()

			if !jsonOutput {
				target := "all payments"
				if signature != "" {
					target = signature
				}
				fmt.Fprintf(os.Stderr, "Watching %s on %s... (Ctrl-C to exit)\n\n", target, c.String("server-url"))
			}

			cl := client.NewClient(c.String("server-url"), nil, newLogger(c))
			err = cl.WatchEvents(ctx, signature, func(e *client.PaymentEvent) error {
				if !matchesJQ(filters, e) {
					return nil
				}
				if err := printEvent(e, jsonOutput); err != nil {
					return err
				}
				if untilSettled && settled(e.Type) {
					return client.ErrStopWatching
				}
				return nil
			})
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("event stream failed: %w", err)
			}
			return nil
		},
	}
}

func subscribeCommand() *cli.Command {
	flags := append([]cli.Flag{
		&cli.BoolFlag{
			Name:    "durable",
			Aliases: []string{"d"},
			Usage:   "Create a durable consumer (survives restarts)",
		},
		&cli.StringFlag{
			Name:  "consumer-name",
			Usage: "Consumer name (required for durable)",
			Value: "solpay-cli",
		},
		&cli.BoolFlag{
			Name:  "replay",
			Usage: "Deliver retained events before new ones",
		},
	}, eventFilterFlags()...)

	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to payment events directly on NATS JetStream",
		ArgsUsage: "[signature]",
		Description: `Subscribe to payment events published to NATS JetStream.

Events are published to the subject: payments.{signature}

Example:
  solpay events subscribe 5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnb --replay --json`,
		Flags: flags,
		Action: func(c *cli.Context) error {
			filters, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			signature := c.Args().First()
			subject := natspkg.StreamSubjects
			if signature != "" {
				subject = natspkg.Subject(signature)
			}

			nc, js, err := natspkg.Connect(c.String("nats-url"), "solpay-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("replay") || signature != "" {
				consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			} else {
				consumerConfig.InactiveThreshold = time.Minute
			}

			ctx := cancelOnSignal(c.Context)
			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			jsonOutput := c.Bool("json")
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Subscribing to: %s\n", subject)
				fmt.Fprintf(os.Stderr, "   NATS: %s\n", c.String("nats-url"))
				if c.Bool("durable") {
					fmt.Fprintf(os.Stderr, "   Consumer: %s (durable)\n", c.String("consumer-name"))
				}
				fmt.Fprintf(os.Stderr, "\nWaiting for payment events... (Ctrl-C to exit)\n\n")
			}

			msgChan := make(chan jetstream.Msg, 10)
			consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
				msgChan <- msg
			})
			if err != nil {
				return fmt.Errorf("failed to consume: %w", err)
			}
			defer consumeCtx.Stop()

			untilSettled := c.Bool("until-settled")
			for {
				select {
				case msg := <-msgChan:
					var event client.PaymentEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
						msg.Ack()
						continue
					}
					msg.Ack()

					if !matchesJQ(filters, &event) {
						continue
					}
					if err := printEvent(&event, jsonOutput); err != nil {
						return err
					}
					if untilSettled && settled(event.Type) {
						return nil
					}

				case <-ctx.Done():
					return nil
				}
			}
		},
	}
}

func settled(eventType string) bool {
	switch eventType {
	case "confirmed", "finalized", "expired", "rejected":
		return true
	}
	return false
}

// compileJQFilters parses and compiles each filter expression.
func compileJQFilters(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// matchesJQ reports whether every filter is truthy for the event's JSON form.
func matchesJQ(filters []*gojq.Code, event *client.PaymentEvent) bool {
	if len(filters) == 0 {
		return true
	}

	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}

	for _, code := range filters {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func printEvent(e *client.PaymentEvent, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("[%s] %-9s %s\n", e.PublishedAt.Format(time.RFC3339), e.Type, e.Signature)
	if e.Recipient != nil {
		fmt.Printf("    To:     %s\n", *e.Recipient)
	}
	if e.Amount > 0 {
		if e.TokenMint != nil {
			fmt.Printf("    Amount: %d base units of %s\n", e.Amount, *e.TokenMint)
		} else {
			fmt.Printf("    Amount: %d lamports\n", e.Amount)
		}
	}
	if e.Memo != nil {
		fmt.Printf("    Memo:   %s\n", *e.Memo)
	}
	if e.Reason != "" {
		fmt.Printf("    Reason: %s (%s)\n", e.Reason, e.ErrorKind)
	}
	return nil
}

// awaitContext bounds ctx by timeout when timeout is positive.
func awaitContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
