package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solpay/service/metrics"
	natspkg "github.com/brojonat/solpay/service/nats"
	"github.com/brojonat/solpay/service/solana"
	"github.com/brojonat/solpay/service/transfer"
	solanago "github.com/gagliardetto/solana-go"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// SubmitTransactionInput contains parameters for the SubmitTransaction activity.
type SubmitTransactionInput struct {
	SignedTransaction string `json:"signed_transaction"` // base64 wire bytes
}

// SubmitTransactionResult contains the result of submitting a transaction.
type SubmitTransactionResult struct {
	Signature string `json:"signature"`
}

// AwaitConfirmationInput contains parameters for the AwaitConfirmation activity.
type AwaitConfirmationInput struct {
	Signature            string `json:"signature"`
	Finality             string `json:"finality"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// AwaitConfirmationResult contains how the confirmation wait ended.
// Expired and failed transactions are results, not activity errors.
type AwaitConfirmationResult struct {
	Status    string `json:"status"`
	ErrorKind string `json:"error_kind,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// PublishPaymentEventInput contains parameters for the PublishPaymentEvent activity.
type PublishPaymentEventInput struct {
	Type              natspkg.EventType `json:"type"`
	Signature         string            `json:"signature"`
	SignedTransaction string            `json:"signed_transaction"`
	ErrorKind         string            `json:"error_kind,omitempty"`
	Reason            string            `json:"reason,omitempty"`
	WorkflowID        string            `json:"workflow_id,omitempty"`
	WorkflowStartedAt time.Time         `json:"workflow_started_at"`
}

// DriverInterface defines the submission operations needed by activities.
// This allows for easy mocking in tests.
type DriverInterface interface {
	Submit(ctx context.Context, raw []byte) (solanago.Signature, error)
	Status(ctx context.Context, sig solanago.Signature) (transfer.ConfirmationStatus, error)
	Await(ctx context.Context, sig solanago.Signature, target transfer.Finality, lastValidBlockHeight uint64) (transfer.ConfirmationStatus, error)
	Ceiling(ctx context.Context, finality transfer.Finality) (uint64, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishPaymentEvent(ctx context.Context, event *natspkg.PaymentEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	driver    DriverInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. If publisher is nil,
// events are logged and dropped.
func NewActivities(
	driver DriverInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		driver:    driver,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// SubmitTransaction sends signed bytes to the cluster. Ledger rejections and
// undecodable input are non-retryable; transport failures are left to the
// activity retry policy.
func (a *Activities) SubmitTransaction(ctx context.Context, input SubmitTransactionInput) (result *SubmitTransactionResult, err error) {
	start := time.Now()
	defer func() { a.recordActivity(ctx, "SubmitTransaction", start, err) }()

	tx, raw, err := transfer.DecodeTransaction(input.SignedTransaction)
	if err != nil {
		return nil, nonRetryable(err)
	}
	if len(tx.Signatures) == 0 {
		return nil, nonRetryable(&transfer.Error{Kind: transfer.KindInvalidTransaction, Op: "submit", Reason: "transaction carries no signatures"})
	}
	sig := tx.Signatures[0]

	// A retry may follow a send whose response was lost. Resending a landed
	// transaction fails preflight, so look it up first.
	if activity.GetInfo(ctx).Attempt > 1 {
		status, err := a.driver.Status(ctx, sig)
		if err == nil && status != transfer.StatusPending {
			a.logger.InfoContext(ctx, "transaction already landed, skipping resend",
				"signature", sig.String(),
				"status", string(status),
			)
			return &SubmitTransactionResult{Signature: sig.String()}, nil
		}
	}

	sig, err = a.driver.Submit(ctx, raw)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to submit transaction",
			"signature", tx.Signatures[0].String(),
			"error", err,
		)
		if !transfer.Retryable(err) {
			return nil, nonRetryable(err)
		}
		return nil, retryable(err, transfer.KindSubmissionFailed)
	}

	a.logger.InfoContext(ctx, "transaction submitted", "signature", sig.String())
	return &SubmitTransactionResult{Signature: sig.String()}, nil
}

// AwaitConfirmation blocks until the transaction settles, heartbeating while
// it waits. A zero LastValidBlockHeight is replaced with the ceiling of the
// newest blockhash.
func (a *Activities) AwaitConfirmation(ctx context.Context, input AwaitConfirmationInput) (result *AwaitConfirmationResult, err error) {
	start := time.Now()
	defer func() { a.recordActivity(ctx, "AwaitConfirmation", start, err) }()

	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid signature %q", input.Signature),
			string(transfer.KindInvalidTransaction),
			err,
		)
	}

	finality, ok := transfer.ParseFinality(input.Finality)
	if !ok {
		finality = transfer.FinalityConfirmed
	}

	ceiling := input.LastValidBlockHeight
	if ceiling == 0 {
		ceiling, err = a.driver.Ceiling(ctx, finality)
		if err != nil {
			return nil, retryable(fmt.Errorf("failed to resolve confirmation ceiling: %w", err), transfer.KindConnectionFailed)
		}
	}

	// Send heartbeats while waiting so Temporal knows the activity is alive
	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, input.Signature)
			}
		}
	}()

	status, err := a.driver.Await(ctx, sig, finality, ceiling)
	switch transfer.KindOf(err) {
	case "":
		if err != nil {
			return nil, fmt.Errorf("confirmation wait interrupted: %w", err)
		}
	case transfer.KindTransactionRejected, transfer.KindConfirmationExpired:
		var terr *transfer.Error
		errors.As(err, &terr)
		a.logger.WarnContext(ctx, "transaction did not settle",
			"signature", input.Signature,
			"status", string(status),
			"error", err,
		)
		return &AwaitConfirmationResult{
			Status:    string(status),
			ErrorKind: string(terr.Kind),
			Reason:    terr.Reason,
		}, nil
	default:
		return nil, retryable(fmt.Errorf("failed to await confirmation: %w", err), transfer.KindConnectionFailed)
	}

	a.logger.InfoContext(ctx, "transaction settled",
		"signature", input.Signature,
		"status", string(status),
	)
	return &AwaitConfirmationResult{Status: string(status)}, nil
}

// PublishPaymentEvent publishes a lifecycle event. Transfer details are read
// from the signed transaction when it decodes.
func (a *Activities) PublishPaymentEvent(ctx context.Context, input PublishPaymentEventInput) (err error) {
	start := time.Now()
	defer func() { a.recordActivity(ctx, "PublishPaymentEvent", start, err) }()

	desc, derr := solana.Describe(input.SignedTransaction)
	if derr != nil {
		a.logger.DebugContext(ctx, "event without transfer details", "signature", input.Signature, "error", derr)
		desc = nil
	}

	event := natspkg.NewPaymentEvent(input.Type, input.Signature, desc)
	event.ErrorKind = input.ErrorKind
	event.Reason = input.Reason
	event.WorkflowID = input.WorkflowID

	if a.metrics != nil && input.Type != natspkg.EventSubmitted && !input.WorkflowStartedAt.IsZero() {
		a.metrics.RecordWorkflowDuration(string(input.Type), time.Since(input.WorkflowStartedAt).Seconds())
	}

	if a.publisher == nil {
		a.logger.InfoContext(ctx, "payment event (no publisher configured)",
			"type", input.Type,
			"signature", input.Signature,
		)
		return nil
	}

	if err := a.publisher.PublishPaymentEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to publish payment event: %w", err)
	}
	return nil
}

func (a *Activities) recordActivity(ctx context.Context, name string, start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	a.logger.DebugContext(ctx, "recording activity duration metric", "activity", name)
	a.metrics.RecordActivityDuration(name, status, time.Since(start).Seconds())
}

// retryable wraps a transient pipeline error as an application error typed by
// its Kind, so the kind survives once the retry policy gives up.
func retryable(err error, fallback transfer.Kind) error {
	kind := transfer.KindOf(err)
	if kind == "" {
		kind = fallback
	}
	return temporal.NewApplicationError(err.Error(), string(kind), err)
}

// nonRetryable wraps a pipeline error so Temporal stops retrying. The error
// type is the pipeline Kind so workflows can branch on it.
func nonRetryable(err error) error {
	kind := transfer.KindOf(err)
	if kind == "" {
		kind = transfer.KindInvalidTransaction
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), string(kind), err)
}
