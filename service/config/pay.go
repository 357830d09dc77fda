package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// PayConfig describes the merchant side of the transaction-request endpoint:
// who gets paid, how much, and how the wallet should present the request.
type PayConfig struct {
	Recipient string          // wallet address receiving payments
	Amount    decimal.Decimal // default amount when the request carries none
	Mint      string          // SPL token mint; empty means SOL
	Label     string          // shown by the wallet
	IconURL   string          // shown by the wallet
	BaseURL   string          // public https URL of this server
}

// LoadDefaults sets the values used when nothing is configured.
func (c *PayConfig) LoadDefaults() {
	c.Label = "solpay"
}

// LoadFromEnv reads PAY_* variables on top of the defaults.
func (c *PayConfig) LoadFromEnv() error {
	c.LoadDefaults()

	c.Recipient = os.Getenv("PAY_RECIPIENT")
	c.Mint = os.Getenv("PAY_MINT")
	c.Label = getEnvOrDefault("PAY_LABEL", c.Label)
	c.IconURL = os.Getenv("PAY_ICON_URL")
	c.BaseURL = os.Getenv("PAY_BASE_URL")

	if value := os.Getenv("PAY_AMOUNT"); value != "" {
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return fmt.Errorf("PAY_AMOUNT: invalid decimal %q: %w", value, err)
		}
		c.Amount = amount
	}
	return nil
}

// Enabled reports whether a recipient is configured. Without one the server
// does not expose the transaction-request endpoint.
func (c *PayConfig) Enabled() bool {
	return c.Recipient != ""
}

// Validate checks the merchant configuration. An unconfigured merchant is valid.
func (c *PayConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}

	var errs []error

	if _, err := solana.PublicKeyFromBase58(c.Recipient); err != nil {
		errs = append(errs, fmt.Errorf("PayRecipient %q is not a valid address: %w", c.Recipient, err))
	}

	if c.Mint != "" {
		if _, err := solana.PublicKeyFromBase58(c.Mint); err != nil {
			errs = append(errs, fmt.Errorf("PayMint %q is not a valid address: %w", c.Mint, err))
		}
	}

	if c.Amount.IsNegative() {
		errs = append(errs, fmt.Errorf("PayAmount must not be negative"))
	}

	if c.Label == "" {
		errs = append(errs, fmt.Errorf("PayLabel is required"))
	}

	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
			errs = append(errs, fmt.Errorf("PayBaseURL must be an absolute http(s) URL, got %q", c.BaseURL))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("pay configuration invalid: %v", errs)
	}
	return nil
}

// RecipientKey returns the parsed recipient. Call Validate first.
func (c *PayConfig) RecipientKey() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(c.Recipient)
}

// MintKey returns the parsed mint, or nil for SOL. Call Validate first.
func (c *PayConfig) MintKey() *solana.PublicKey {
	if c.Mint == "" {
		return nil
	}
	mint := solana.MustPublicKeyFromBase58(c.Mint)
	return &mint
}
