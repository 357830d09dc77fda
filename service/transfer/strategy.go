package transfer

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Strategy selects how the unsigned transaction is produced.
type Strategy string

const (
	// StrategyLocal validates accounts and assembles the transaction here.
	StrategyLocal Strategy = "local"
	// StrategyRemote asks a transaction-request endpoint to build it.
	StrategyRemote Strategy = "remote"
)

// ParseStrategy accepts "local" or "remote".
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLocal, StrategyRemote:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want local or remote)", s)
	}
}

// Signer is the wallet capability that turns an unsigned transaction into a
// signed one. Both sides are base64 wire bytes. Implementations return
// ErrSigningDeclined when the user refuses.
type Signer interface {
	SignTransaction(ctx context.Context, unsignedBase64 string) (string, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, unsignedBase64 string) (string, error)

func (f SignerFunc) SignTransaction(ctx context.Context, unsignedBase64 string) (string, error) {
	return f(ctx, unsignedBase64)
}

// RemoteRequest is what the payer sends to a transaction-request endpoint.
type RemoteRequest struct {
	Account    solana.PublicKey // the payer, posted in the body
	Recipient  solana.PublicKey
	Mint       *solana.PublicKey
	Amount     decimal.Decimal
	References []solana.PublicKey
	Memo       string
}

// RemoteTransaction is the endpoint's answer.
type RemoteTransaction struct {
	Base64  string
	Message string
}

// RemoteBuilder produces an unsigned transaction on a server. Its output is
// trusted as-is: instruction content is not re-validated.
type RemoteBuilder interface {
	BuildTransaction(ctx context.Context, req RemoteRequest) (*RemoteTransaction, error)
}

func remoteRequest(req TransferRequest) RemoteRequest {
	return RemoteRequest{
		Account:    req.Sender,
		Recipient:  req.Recipient,
		Mint:       req.Mint,
		Amount:     req.Amount,
		References: req.References,
		Memo:       req.Memo,
	}
}
