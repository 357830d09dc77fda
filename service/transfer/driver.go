package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// JSON-RPC error codes that mean the ledger looked at the transaction and
// refused it. Anything else is a transport or node problem.
const (
	codeInvalidParams         = -32602
	codePreflightFailure      = -32002
	codeSignatureVerification = -32003
)

// DriverConfig tunes submission and confirmation.
type DriverConfig struct {
	PollInterval        time.Duration      // how often Await polls signature status
	MaxAttempts         uint               // total sends of the same bytes; 0 or 1 sends once
	SkipPreflight       bool               // skip node-side simulation
	PreflightCommitment rpc.CommitmentType // commitment used for simulation
}

// DefaultDriverConfig returns the settings used when none are supplied.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		PollInterval:        500 * time.Millisecond,
		MaxAttempts:         1,
		PreflightCommitment: rpc.CommitmentConfirmed,
	}
}

// Driver submits signed transactions and waits for them to settle.
type Driver struct {
	conn   Connection
	config DriverConfig
	logger *slog.Logger
}

// NewDriver creates a Driver. Zero values in config fall back to defaults.
func NewDriver(conn Connection, config DriverConfig, logger *slog.Logger) *Driver {
	defaults := DefaultDriverConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.PreflightCommitment == "" {
		config.PreflightCommitment = defaults.PreflightCommitment
	}
	return &Driver{conn: conn, config: config, logger: logger}
}

// Submit broadcasts fully signed transaction bytes and returns the signature.
// Bytes that do not decode, or that still have an empty signature slot, never
// reach the network.
func (d *Driver) Submit(ctx context.Context, raw []byte) (solana.Signature, error) {
	tx, err := decodeRaw(raw)
	if err != nil {
		return solana.Signature{}, newError(KindInvalidTransaction, "submit", fmt.Errorf("decode transaction: %w", err))
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, newError(KindInvalidTransaction, "submit", errors.New("transaction has no signatures"))
	}
	if missing := MissingSignatures(tx); len(missing) > 0 {
		e := newError(KindInvalidTransaction, "submit", nil)
		e.Reason = fmt.Sprintf("missing signature for %s", missing[0])
		return solana.Signature{}, e
	}

	opts := rpc.TransactionOpts{
		SkipPreflight:       d.config.SkipPreflight,
		PreflightCommitment: d.config.PreflightCommitment,
	}

	attempt := 0
	send := func() (solana.Signature, error) {
		attempt++
		sig, err := d.conn.SendRawTransactionWithOpts(ctx, raw, opts)
		if err == nil {
			return sig, nil
		}
		classified := classifySendError(err)
		if classified.Kind == KindTransactionRejected {
			return solana.Signature{}, backoff.Permanent(classified)
		}
		d.logger.WarnContext(ctx, "transaction send failed",
			"attempt", attempt,
			"max_attempts", d.config.MaxAttempts,
			"error", err,
		)
		return solana.Signature{}, classified
	}

	sig, err := backoff.Retry(ctx, send,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(d.config.MaxAttempts),
	)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return solana.Signature{}, e
		}
		// Context cancellation or retry exhaustion outside an RPC call.
		return solana.Signature{}, newError(KindSubmissionFailed, "submit", err)
	}

	// The first signature is the transaction id; a node that answers with a
	// different one is not talking about our bytes.
	if !tx.Signatures[0].Equals(sig) {
		d.logger.WarnContext(ctx, "node returned unexpected signature",
			"expected", tx.Signatures[0].String(),
			"got", sig.String(),
		)
		sig = tx.Signatures[0]
	}

	d.logger.InfoContext(ctx, "transaction submitted",
		"signature", sig.String(),
		"attempts", attempt,
	)
	return sig, nil
}

// Status reads the current status of a signature once. A transaction the
// ledger executed with an error yields StatusFailed and TransactionRejected.
func (d *Driver) Status(ctx context.Context, sig solana.Signature) (ConfirmationStatus, error) {
	out, err := d.conn.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return StatusPending, newError(KindConnectionFailed, "status", fmt.Errorf("get signature status: %w", err))
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return StatusPending, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		e := newError(KindTransactionRejected, "confirm", nil)
		e.Reason = fmt.Sprintf("%v", status.Err)
		return StatusFailed, e
	}

	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return StatusFinalized, nil
	case rpc.ConfirmationStatusConfirmed:
		return StatusConfirmed, nil
	default:
		return StatusPending, nil
	}
}

// Await polls until sig reaches target, fails on-chain, or can no longer
// land because the block height passed lastValidBlockHeight. A transaction
// that has already landed is never reported as expired.
func (d *Driver) Await(ctx context.Context, sig solana.Signature, target Finality, lastValidBlockHeight uint64) (ConfirmationStatus, error) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	landed := false
	for {
		status, err := d.Status(ctx, sig)
		switch {
		case KindOf(err) == KindTransactionRejected:
			return status, err
		case err != nil:
			d.logger.WarnContext(ctx, "confirmation check failed", "signature", sig.String(), "error", err)
		case status.Reaches(target):
			d.logger.InfoContext(ctx, "transaction confirmed",
				"signature", sig.String(),
				"status", string(status),
			)
			return status, nil
		case status == StatusConfirmed:
			landed = true
		}

		if !landed {
			expired, err := d.expired(ctx, target, lastValidBlockHeight)
			if err != nil {
				d.logger.WarnContext(ctx, "block height check failed", "error", err)
			} else if expired {
				return d.finalCheck(ctx, sig, target)
			}
		}

		select {
		case <-ctx.Done():
			return StatusPending, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ceiling returns an upper bound for the last valid block height of any
// transaction signed before now: the ceiling of the newest blockhash.
func (d *Driver) Ceiling(ctx context.Context, finality Finality) (uint64, error) {
	checkpoint, err := latestCheckpoint(ctx, d.conn, finality)
	if err != nil {
		return 0, err
	}
	return checkpoint.LastValidBlockHeight, nil
}

func (d *Driver) expired(ctx context.Context, target Finality, lastValidBlockHeight uint64) (bool, error) {
	height, err := d.conn.GetBlockHeight(ctx, target.Commitment())
	if err != nil {
		return false, fmt.Errorf("get block height: %w", err)
	}
	return height > lastValidBlockHeight, nil
}

// finalCheck reads the status one last time after the ceiling has passed, so a
// transaction that landed between polls is not reported as expired.
func (d *Driver) finalCheck(ctx context.Context, sig solana.Signature, target Finality) (ConfirmationStatus, error) {
	status, err := d.Status(ctx, sig)
	if KindOf(err) == KindTransactionRejected {
		return status, err
	}
	if err == nil && status.Reaches(target) {
		return status, nil
	}
	if err == nil && status == StatusConfirmed {
		// Landed but not yet final; keep waiting without a ceiling.
		return d.Await(ctx, sig, target, ^uint64(0))
	}

	d.logger.WarnContext(ctx, "transaction expired", "signature", sig.String())
	return StatusExpired, &Error{
		Kind:   KindConfirmationExpired,
		Op:     "confirm",
		Reason: "block height exceeded last valid block height",
	}
}

func classifySendError(err error) *Error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case codePreflightFailure, codeSignatureVerification, codeInvalidParams:
			e := newError(KindTransactionRejected, "submit", err)
			e.Reason = rpcErr.Message
			return e
		}
	}
	return newError(KindSubmissionFailed, "submit", err)
}
