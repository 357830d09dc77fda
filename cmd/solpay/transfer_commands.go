package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solpay/client"
	"github.com/brojonat/solpay/service/solana"
	"github.com/brojonat/solpay/service/transfer"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func transferFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "sender",
			Usage: "Payer wallet address (defaults to the --keypair public key)",
		},
		&cli.StringFlag{
			Name:  "recipient",
			Usage: "Recipient wallet address",
		},
		&cli.StringFlag{
			Name:  "amount",
			Usage: "Amount in SOL or token units (e.g., 0.25)",
		},
		&cli.StringFlag{
			Name:  "spl-token",
			Usage: "SPL token mint address (omit for SOL)",
		},
		&cli.StringSliceFlag{
			Name:  "reference",
			Usage: "Reference key to attach to the transfer (can be specified multiple times)",
		},
		&cli.StringFlag{
			Name:  "memo",
			Usage: "Memo recorded with the transfer",
		},
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "Transaction-request endpoint; builds remotely when set",
		},
	}
}

func buildCommand() *cli.Command {
	flags := append(transferFlags(), &cli.StringFlag{
		Name:  "keypair",
		Usage: "Keypair file; only its public key is used as the sender",
	})
	return &cli.Command{
		Name:  "build",
		Usage: "Build an unsigned transfer transaction",
		Description: `Validate the accounts involved and assemble an unsigned transaction.

With --endpoint the transaction is requested from a transaction-request server
instead, and no account validation happens locally.

Example:
  solpay build --sender <payer> --recipient <merchant> --amount 0.1 --memo order-42`,
		Flags: flags,
		Action: func(c *cli.Context) error {
			sender, err := senderKey(c)
			if err != nil {
				return err
			}
			req, err := transferRequestFromFlags(c, sender)
			if err != nil {
				return err
			}

			pipeline, strategy, err := newPipeline(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
			defer cancel()

			built, err := pipeline.Build(ctx, strategy, req)
			if err != nil {
				return fmt.Errorf("failed to build transaction: %w", err)
			}

			if c.Bool("json") {
				return printJSON(map[string]interface{}{
					"transaction":             built.Base64,
					"strategy":                built.Strategy,
					"message":                 built.Message,
					"last_valid_block_height": built.LastValidBlockHeight,
				})
			}

			fmt.Println(built.Base64)
			fmt.Fprintf(os.Stderr, "Strategy: %s\n", built.Strategy)
			fmt.Fprintf(os.Stderr, "Valid until block height: %d\n", built.LastValidBlockHeight)
			if built.Message != "" {
				fmt.Fprintf(os.Stderr, "Message: %s\n", built.Message)
			}
			return nil
		},
	}
}

func signCommand() *cli.Command {
	return &cli.Command{
		Name:      "sign",
		Usage:     "Sign an unsigned transaction with a keypair file",
		ArgsUsage: "BASE64_TRANSACTION",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "keypair",
				Usage:    "Keypair file in solana-keygen JSON format",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: base64 transaction")
			}

			signer, err := loadKeypairSigner(c.String("keypair"))
			if err != nil {
				return err
			}

			signed, err := signer.SignTransaction(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to sign transaction: %w", err)
			}
			fmt.Println(signed)
			return nil
		},
	}
}

func payCommand() *cli.Command {
	flags := append(transferFlags(),
		&cli.StringFlag{
			Name:     "keypair",
			Usage:    "Keypair file in solana-keygen JSON format",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "via-server",
			Usage: "Hand the signed transaction to the solpay server instead of submitting it directly",
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Value:   2 * time.Minute,
			Usage:   "How long to wait for the payment to settle",
		},
	)
	return &cli.Command{
		Name:      "pay",
		Usage:     "Build, sign, submit and confirm a payment",
		ArgsUsage: "[SOLANA_PAY_URL]",
		Description: `Pay a Solana Pay URL or a transfer described by flags.

A transfer-request URL is built locally. A transaction-request URL is built by
the endpoint it points to. The signed transaction is then submitted directly
over RPC, or through the solpay server with --via-server.

Example:
  solpay pay --keypair ~/.config/solana/id.json "solana:<merchant>?amount=0.1&memo=order-42"`,
		Flags: flags,
		Action: func(c *cli.Context) error {
			signer, err := loadKeypairSigner(c.String("keypair"))
			if err != nil {
				return err
			}

			req, endpoint, err := paymentFromArgs(c, signer.PublicKey())
			if err != nil {
				return err
			}
			if endpoint != "" {
				if err := c.Set("endpoint", endpoint); err != nil {
					return err
				}
			}

			pipeline, strategy, err := newPipeline(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			ctx = cancelOnSignal(ctx)

			if !c.Bool("via-server") {
				result, err := pipeline.Pay(ctx, strategy, req, signer)
				if err != nil {
					if result.Signature.IsZero() {
						return fmt.Errorf("payment failed: %w", err)
					}
					return fmt.Errorf("payment %s failed (%s): %w", result.Signature, result.Status, err)
				}
				return printResult(c, result.Signature.String(), string(result.Status))
			}

			built, err := pipeline.Build(ctx, strategy, req)
			if err != nil {
				return fmt.Errorf("failed to build transaction: %w", err)
			}
			raw, err := pipeline.Sign(ctx, signer, built)
			if err != nil {
				return fmt.Errorf("failed to sign transaction: %w", err)
			}

			cl := client.NewClient(c.String("server-url"), nil, newLogger(c))
			sub, err := cl.SubmitTransaction(ctx, encodeBase64(raw), string(pipeline.Finality()), built.LastValidBlockHeight)
			if err != nil {
				return fmt.Errorf("failed to submit transaction: %w", err)
			}
			if !c.Bool("json") {
				fmt.Fprintf(os.Stderr, "Submitted %s, waiting for settlement...\n", sub.Signature)
			}

			final, err := awaitTerminalEvent(ctx, cl, sub.Signature)
			if err != nil {
				return err
			}
			if final.Type == "expired" || final.Type == "rejected" {
				return fmt.Errorf("payment %s %s: %s", final.Signature, final.Type, final.Reason)
			}
			return printResult(c, final.Signature, final.Type)
		},
	}
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit a signed transaction through the solpay server",
		ArgsUsage: "BASE64_TRANSACTION",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:  "last-valid-block-height",
				Usage: "Block height after which the transaction expires (0 lets the server decide)",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Follow the payment until it settles",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: base64 transaction")
			}

			ctx := cancelOnSignal(c.Context)
			cl := client.NewClient(c.String("server-url"), nil, newLogger(c))
			sub, err := cl.SubmitTransaction(ctx, c.Args().First(), c.String("commitment"), c.Uint64("last-valid-block-height"))
			if err != nil {
				return fmt.Errorf("failed to submit transaction: %w", err)
			}

			if !c.Bool("wait") {
				if c.Bool("json") {
					return printJSON(sub)
				}
				fmt.Printf("Signature:   %s\n", sub.Signature)
				fmt.Printf("Status:      %s\n", sub.Status)
				if sub.WorkflowID != "" {
					fmt.Printf("Workflow ID: %s\n", sub.WorkflowID)
				}
				return nil
			}

			final, err := awaitTerminalEvent(ctx, cl, sub.Signature)
			if err != nil {
				return err
			}
			return printResult(c, final.Signature, final.Type)
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the confirmation status of a signature",
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}

			cl := client.NewClient(c.String("server-url"), nil, newLogger(c))
			status, err := cl.Status(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			return printResult(c, c.Args().First(), status)
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Describe a base64 transaction without submitting it",
		ArgsUsage: "BASE64_TRANSACTION",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: base64 transaction")
			}

			desc, err := solana.Describe(c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to decode transaction: %w", err)
			}

			if c.Bool("json") {
				return printJSON(desc)
			}
			printDescription(desc)
			return nil
		},
	}
}

// newPipeline dials the configured cluster. The strategy is remote when an
// --endpoint was given.
func newPipeline(c *cli.Context) (*transfer.Pipeline, transfer.Strategy, error) {
	finality, ok := transfer.ParseFinality(c.String("commitment"))
	if !ok {
		return nil, "", fmt.Errorf("invalid commitment %q (want confirmed or finalized)", c.String("commitment"))
	}

	logger := newLogger(c)
	cfg := solana.RPCConfig{
		Cluster:   c.String("cluster"),
		Endpoints: c.StringSlice("rpc-url"),
		APIKey:    c.String("rpc-api-key"),
	}
	rpcClient, label, err := solana.NewRPCClient(cfg)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create RPC client: %w", err)
	}

	opts := transfer.Options{
		Finality: finality,
		Driver:   transfer.DefaultDriverConfig(),
	}
	strategy := transfer.StrategyLocal
	if endpoint := c.String("endpoint"); endpoint != "" {
		remote, err := client.NewTransactionRequestClient(endpoint, nil, logger)
		if err != nil {
			return nil, "", err
		}
		opts.Remote = remote
		strategy = transfer.StrategyRemote
	}

	conn := solana.NewClient(rpcClient, label, nil, logger)
	return transfer.NewPipeline(conn, opts, nil, logger), strategy, nil
}

func senderKey(c *cli.Context) (solanago.PublicKey, error) {
	if s := c.String("sender"); s != "" {
		key, err := solanago.PublicKeyFromBase58(s)
		if err != nil {
			return solanago.PublicKey{}, fmt.Errorf("invalid sender address: %w", err)
		}
		return key, nil
	}
	if path := c.String("keypair"); path != "" {
		signer, err := loadKeypairSigner(path)
		if err != nil {
			return solanago.PublicKey{}, err
		}
		return signer.PublicKey(), nil
	}
	return solanago.PublicKey{}, fmt.Errorf("--sender or --keypair is required")
}

// transferRequestFromFlags reads the transfer flags. A remote build needs
// nothing but the sender.
func transferRequestFromFlags(c *cli.Context, sender solanago.PublicKey) (transfer.TransferRequest, error) {
	req := transfer.TransferRequest{
		Sender: sender,
		Memo:   c.String("memo"),
	}
	remote := c.String("endpoint") != ""

	if s := c.String("recipient"); s != "" {
		key, err := solanago.PublicKeyFromBase58(s)
		if err != nil {
			return req, fmt.Errorf("invalid recipient address: %w", err)
		}
		req.Recipient = key
	} else if !remote {
		return req, fmt.Errorf("--recipient is required")
	}

	if s := c.String("amount"); s != "" {
		amount, err := decimal.NewFromString(s)
		if err != nil || !amount.IsPositive() {
			return req, fmt.Errorf("--amount must be a positive number, got %q", s)
		}
		req.Amount = amount
	} else if !remote {
		return req, fmt.Errorf("--amount is required")
	}

	if s := c.String("spl-token"); s != "" {
		mint, err := solanago.PublicKeyFromBase58(s)
		if err != nil {
			return req, fmt.Errorf("invalid spl-token mint: %w", err)
		}
		req.Mint = &mint
	}

	for _, s := range c.StringSlice("reference") {
		ref, err := solanago.PublicKeyFromBase58(s)
		if err != nil {
			return req, fmt.Errorf("invalid reference %q: %w", s, err)
		}
		req.References = append(req.References, ref)
	}
	return req, nil
}

// paymentFromArgs reads the payment from a Solana Pay URL argument, or from
// flags when there is none. The returned endpoint is set for transaction
// request URLs.
func paymentFromArgs(c *cli.Context, sender solanago.PublicKey) (transfer.TransferRequest, string, error) {
	if c.NArg() == 0 {
		req, err := transferRequestFromFlags(c, sender)
		return req, "", err
	}

	payURL, err := transfer.ParseURL(c.Args().First())
	if err != nil {
		return transfer.TransferRequest{}, "", err
	}
	if payURL.IsTransactionRequest() {
		return transfer.TransferRequest{Sender: sender}, payURL.Link.String(), nil
	}

	// A URL without an amount leaves the choice to the payer.
	if payURL.Amount.IsZero() && c.String("amount") != "" {
		amount, err := decimal.NewFromString(c.String("amount"))
		if err != nil {
			return transfer.TransferRequest{}, "", fmt.Errorf("invalid --amount: %w", err)
		}
		payURL.Amount = amount
	}
	req, err := payURL.TransferRequest(sender)
	if err != nil {
		return transfer.TransferRequest{}, "", err
	}
	return req, "", nil
}

// awaitTerminalEvent follows the server's event stream for signature until a
// terminal event arrives. A confirmed event ends the wait at confirmed finality.
func awaitTerminalEvent(ctx context.Context, cl *client.Client, signature string) (*client.PaymentEvent, error) {
	var final *client.PaymentEvent
	err := cl.WatchEvents(ctx, signature, func(e *client.PaymentEvent) error {
		switch e.Type {
		case "confirmed", "finalized", "expired", "rejected":
			final = e
			return client.ErrStopWatching
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to follow payment: %w", err)
	}
	if final == nil {
		return nil, fmt.Errorf("event stream closed before payment %s settled", signature)
	}
	return final, nil
}

// cancelOnSignal returns a context that is cancelled on interrupt.
func cancelOnSignal(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

func printResult(c *cli.Context, signature, status string) error {
	if c.Bool("json") {
		return printJSON(map[string]string{"signature": signature, "status": status})
	}
	fmt.Printf("Signature: %s\n", signature)
	fmt.Printf("Status:    %s\n", status)
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printDescription(desc *solana.Description) {
	fmt.Printf("Fee payer:    %s\n", desc.FeePayer)
	fmt.Printf("Blockhash:    %s\n", desc.Blockhash)
	fmt.Printf("Instructions: %d\n", desc.Instructions)
	for _, s := range desc.Signers {
		mark := "missing"
		if s.Signed {
			mark = "signed"
		}
		fmt.Printf("Signer:       %s (%s)\n", s.Address, mark)
	}
	if desc.Memo != nil {
		fmt.Printf("Memo:         %s\n", *desc.Memo)
	}
	if t := desc.Transfer; t != nil {
		fmt.Printf("Transfer:     %s\n", t.Kind)
		if t.Decimals != nil {
			fmt.Printf("Amount:       %s\n", transfer.FormatAmount(t.Amount, *t.Decimals))
		} else if t.Kind == "sol" {
			fmt.Printf("Amount:       %s SOL\n", transfer.FormatAmount(t.Amount, transfer.NativeDecimals))
		} else {
			fmt.Printf("Amount:       %d base units\n", t.Amount)
		}
		if t.TokenMint != nil {
			fmt.Printf("Mint:         %s\n", *t.TokenMint)
		}
		if t.FromAddress != nil {
			fmt.Printf("From:         %s\n", *t.FromAddress)
		}
		if t.ToAddress != nil {
			fmt.Printf("To:           %s\n", *t.ToAddress)
		}
		for _, ref := range t.References {
			fmt.Printf("Reference:    %s\n", ref)
		}
	}
}
