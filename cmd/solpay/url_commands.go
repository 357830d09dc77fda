package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/brojonat/solpay/client"
	"github.com/brojonat/solpay/service/transfer"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
	"github.com/urfave/cli/v2"
)

// payURLOutput is the JSON form of a decoded Solana Pay URL.
type payURLOutput struct {
	Kind       string   `json:"kind"` // transfer or transaction
	Recipient  string   `json:"recipient,omitempty"`
	Amount     string   `json:"amount,omitempty"`
	SPLToken   string   `json:"spl_token,omitempty"`
	References []string `json:"references,omitempty"`
	Label      string   `json:"label,omitempty"`
	Message    string   `json:"message,omitempty"`
	Memo       string   `json:"memo,omitempty"`
	Link       string   `json:"link,omitempty"`
}

func describePayURL(p *transfer.PayURL) payURLOutput {
	out := payURLOutput{
		Kind:    "transfer",
		Label:   p.Label,
		Message: p.Message,
		Memo:    p.Memo,
	}
	if p.IsTransactionRequest() {
		out.Kind = "transaction"
		out.Link = p.Link.String()
		return out
	}
	out.Recipient = p.Recipient.String()
	if !p.Amount.IsZero() {
		out.Amount = p.Amount.String()
	}
	if p.Mint != nil {
		out.SPLToken = p.Mint.String()
	}
	for _, ref := range p.References {
		out.References = append(out.References, ref.String())
	}
	return out
}

func parseURLCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Decode a Solana Pay URL",
		ArgsUsage: "SOLANA_PAY_URL",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: solana pay URL")
			}

			p, err := transfer.ParseURL(c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to parse URL: %w", err)
			}

			out := describePayURL(p)
			if c.Bool("json") {
				return printJSON(out)
			}

			fmt.Printf("Kind:       %s request\n", out.Kind)
			if out.Link != "" {
				fmt.Printf("Link:       %s\n", out.Link)
			}
			if out.Recipient != "" {
				fmt.Printf("Recipient:  %s\n", out.Recipient)
			}
			if out.Amount != "" {
				fmt.Printf("Amount:     %s\n", out.Amount)
			}
			if out.SPLToken != "" {
				fmt.Printf("SPL token:  %s\n", out.SPLToken)
			}
			for _, ref := range out.References {
				fmt.Printf("Reference:  %s\n", ref)
			}
			if out.Label != "" {
				fmt.Printf("Label:      %s\n", out.Label)
			}
			if out.Message != "" {
				fmt.Printf("Message:    %s\n", out.Message)
			}
			if out.Memo != "" {
				fmt.Printf("Memo:       %s\n", out.Memo)
			}
			return nil
		},
	}
}

func encodeURLCommand() *cli.Command {
	return &cli.Command{
		Name:  "encode",
		Usage: "Encode a Solana Pay URL",
		Description: `Encode a transfer request from flags, or a transaction request with --link.

Example:
  solpay url encode --recipient <merchant> --amount 0.1 --reference <key> --qr pay.png`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "recipient",
				Usage: "Recipient wallet address",
			},
			&cli.StringFlag{
				Name:  "amount",
				Usage: "Amount in SOL or token units; omit to let the payer choose",
			},
			&cli.StringFlag{
				Name:  "spl-token",
				Usage: "SPL token mint address",
			},
			&cli.StringSliceFlag{
				Name:  "reference",
				Usage: "Reference key (can be specified multiple times)",
			},
			&cli.BoolFlag{
				Name:  "new-reference",
				Usage: "Add a freshly generated reference key",
			},
			&cli.StringFlag{
				Name:  "label",
				Usage: "Merchant label shown by the wallet",
			},
			&cli.StringFlag{
				Name:  "message",
				Usage: "Message shown by the wallet",
			},
			&cli.StringFlag{
				Name:  "memo",
				Usage: "Memo recorded with the transfer",
			},
			&cli.StringFlag{
				Name:  "link",
				Usage: "Transaction-request endpoint; encodes a transaction request",
			},
			&cli.StringFlag{
				Name:  "qr",
				Usage: "Write a QR code PNG of the URL to this file",
			},
			&cli.IntFlag{
				Name:  "qr-size",
				Usage: "QR code size in pixels",
				Value: 512,
			},
		},
		Action: func(c *cli.Context) error {
			encoded, reference, err := encodeURLFromFlags(c)
			if err != nil {
				return err
			}

			if path := c.String("qr"); path != "" {
				if err := qrcode.WriteFile(encoded, qrcode.Medium, c.Int("qr-size"), path); err != nil {
					return fmt.Errorf("failed to write QR code: %w", err)
				}
			}

			if c.Bool("json") {
				out := map[string]string{"url": encoded}
				if reference != "" {
					out["reference"] = reference
				}
				if path := c.String("qr"); path != "" {
					out["qr_code_file"] = path
				}
				return printJSON(out)
			}

			fmt.Println(encoded)
			if reference != "" {
				fmt.Fprintf(os.Stderr, "Reference: %s\n", reference)
			}
			if path := c.String("qr"); path != "" {
				fmt.Fprintf(os.Stderr, "QR code written to %s\n", path)
			}
			return nil
		},
	}
}

// encodeURLFromFlags returns the encoded URL and, when --new-reference was
// given, the generated reference.
func encodeURLFromFlags(c *cli.Context) (string, string, error) {
	if link := c.String("link"); link != "" {
		u, err := url.Parse(link)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return "", "", fmt.Errorf("--link must be an absolute https URL, got %q", link)
		}
		return transfer.TransactionRequestURL(u, c.String("label"), c.String("message")), "", nil
	}

	if c.String("recipient") == "" {
		return "", "", fmt.Errorf("--recipient or --link is required")
	}
	p := &transfer.PayURL{
		Label:   c.String("label"),
		Message: c.String("message"),
		Memo:    c.String("memo"),
	}

	recipient, err := solanago.PublicKeyFromBase58(c.String("recipient"))
	if err != nil {
		return "", "", fmt.Errorf("invalid recipient address: %w", err)
	}
	p.Recipient = recipient

	if s := c.String("amount"); s != "" {
		amount, err := decimal.NewFromString(s)
		if err != nil || !amount.IsPositive() {
			return "", "", fmt.Errorf("--amount must be a positive number, got %q", s)
		}
		p.Amount = amount
	}
	if s := c.String("spl-token"); s != "" {
		mint, err := solanago.PublicKeyFromBase58(s)
		if err != nil {
			return "", "", fmt.Errorf("invalid spl-token mint: %w", err)
		}
		p.Mint = &mint
	}
	for _, s := range c.StringSlice("reference") {
		ref, err := solanago.PublicKeyFromBase58(s)
		if err != nil {
			return "", "", fmt.Errorf("invalid reference %q: %w", s, err)
		}
		p.References = append(p.References, ref)
	}

	var generated string
	if c.Bool("new-reference") {
		ref := solanago.NewWallet().PublicKey()
		p.References = append(p.References, ref)
		generated = ref.String()
	}
	return p.String(), generated, nil
}

func newURLCommand() *cli.Command {
	return &cli.Command{
		Name:  "new",
		Usage: "Ask the solpay server for a fresh payment URL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "amount",
				Usage: "Amount; omit to use the merchant default",
			},
			&cli.StringFlag{
				Name:  "memo",
				Usage: "Memo recorded with the transfer",
			},
			&cli.StringFlag{
				Name:  "message",
				Usage: "Message shown by the wallet",
			},
		},
		Action: func(c *cli.Context) error {
			cl := client.NewClient(c.String("server-url"), nil, newLogger(c))
			link, err := cl.PayURL(c.Context, c.String("amount"), c.String("memo"), c.String("message"))
			if err != nil {
				return fmt.Errorf("failed to create payment URL: %w", err)
			}

			if c.Bool("json") {
				return printJSON(link)
			}
			fmt.Println(link.URL)
			fmt.Fprintf(os.Stderr, "ID:        %s\n", link.ID)
			fmt.Fprintf(os.Stderr, "Reference: %s\n", link.Reference)
			if link.TransactionRequestURL != "" {
				fmt.Fprintf(os.Stderr, "Transaction request: %s\n", link.TransactionRequestURL)
			}
			return nil
		},
	}
}
