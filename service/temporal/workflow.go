package temporal

import (
	"errors"
	"fmt"
	"time"

	natspkg "github.com/brojonat/solpay/service/nats"
	"github.com/brojonat/solpay/service/transfer"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// PaymentWorkflowInput contains a signed transaction and how final it must become.
type PaymentWorkflowInput struct {
	SignedTransaction    string `json:"signed_transaction"` // base64 wire bytes
	Finality             string `json:"finality"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"` // zero means derive from the newest blockhash
}

// PaymentWorkflowResult contains the outcome of a payment.
type PaymentWorkflowResult struct {
	Signature   string     `json:"signature"`
	Status      string     `json:"status"` // confirmed, finalized, expired, failed
	ErrorKind   string     `json:"error_kind,omitempty"`
	Error       *string    `json:"error,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
}

// PaymentWorkflowID returns the workflow ID for a transaction signature, so a
// payment is tracked by at most one running workflow.
func PaymentWorkflowID(signature string) string {
	return "payment-" + signature
}

// PaymentWorkflow is the Temporal workflow that drives a signed transaction to
// finality.
//
// The workflow performs these steps:
// 1. Submit the signed bytes (SubmitTransaction activity)
// 2. Publish a submitted event
// 3. Wait for the target finality or expiry (AwaitConfirmation activity)
// 4. Publish the terminal event and return the outcome
//
// Event publication failures are logged and never fail the payment.
func PaymentWorkflow(ctx workflow.Context, input PaymentWorkflowInput) (*PaymentWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)
	startedAt := workflow.Now(ctx)

	result := &PaymentWorkflowResult{}
	if tx, _, err := transfer.DecodeTransaction(input.SignedTransaction); err == nil && len(tx.Signatures) > 0 {
		result.Signature = tx.Signatures[0].String()
	}
	logger.Info("PaymentWorkflow started", "signature", result.Signature)

	publish := func(eventType natspkg.EventType, errorKind, reason string) {
		pctx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 15 * time.Second,
			RetryPolicy: &temporalsdk.RetryPolicy{
				InitialInterval:    time.Second,
				BackoffCoefficient: 2.0,
				MaximumInterval:    10 * time.Second,
				MaximumAttempts:    5,
			},
		})
		err := workflow.ExecuteActivity(pctx, a.PublishPaymentEvent, PublishPaymentEventInput{
			Type:              eventType,
			Signature:         result.Signature,
			SignedTransaction: input.SignedTransaction,
			ErrorKind:         errorKind,
			Reason:            reason,
			WorkflowID:        info.WorkflowExecution.ID,
			WorkflowStartedAt: startedAt,
		}).Get(ctx, nil)
		if err != nil {
			logger.Warn("failed to publish payment event", "type", eventType, "error", err)
		}
	}

	// Step 1: Submit
	submitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    15 * time.Second,
			MaximumAttempts:    5,
			NonRetryableErrorTypes: []string{
				string(transfer.KindTransactionRejected),
				string(transfer.KindInvalidTransaction),
			},
		},
	})

	var submitResult *SubmitTransactionResult
	err := workflow.ExecuteActivity(submitCtx, a.SubmitTransaction, SubmitTransactionInput{
		SignedTransaction: input.SignedTransaction,
	}).Get(ctx, &submitResult)
	if err != nil {
		kind := errorType(err)
		if kind == "" {
			kind = string(transfer.KindSubmissionFailed)
		}
		errMsg := fmt.Sprintf("submit failed: %v", err)
		result.Status = string(transfer.StatusFailed)
		result.ErrorKind = kind
		result.Error = &errMsg

		if kind == string(transfer.KindTransactionRejected) && result.Signature != "" {
			publish(natspkg.EventRejected, kind, err.Error())
		}
		logger.Error("submit failed", "signature", result.Signature, "error", err)
		return nil, paymentFailed(errMsg, kind, err, result)
	}

	result.Signature = submitResult.Signature
	submittedAt := workflow.Now(ctx)
	result.SubmittedAt = &submittedAt
	publish(natspkg.EventSubmitted, "", "")

	// Step 2: Await confirmation
	awaitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var awaitResult *AwaitConfirmationResult
	err = workflow.ExecuteActivity(awaitCtx, a.AwaitConfirmation, AwaitConfirmationInput{
		Signature:            result.Signature,
		Finality:             input.Finality,
		LastValidBlockHeight: input.LastValidBlockHeight,
	}).Get(ctx, &awaitResult)
	if err != nil {
		kind := errorType(err)
		if kind == "" {
			kind = string(transfer.KindConnectionFailed)
		}
		errMsg := fmt.Sprintf("confirmation failed: %v", err)
		result.Status = string(transfer.StatusPending)
		result.ErrorKind = kind
		result.Error = &errMsg
		logger.Error("confirmation failed", "signature", result.Signature, "error", err)
		return nil, paymentFailed(errMsg, kind, err, result)
	}

	settledAt := workflow.Now(ctx)
	result.SettledAt = &settledAt
	result.Status = awaitResult.Status
	result.ErrorKind = awaitResult.ErrorKind
	if awaitResult.ErrorKind != "" {
		errMsg := awaitResult.Reason
		if errMsg == "" {
			errMsg = awaitResult.ErrorKind
		}
		result.Error = &errMsg
	}

	if eventType, ok := natspkg.EventForStatus(transfer.ConfirmationStatus(awaitResult.Status)); ok {
		publish(eventType, awaitResult.ErrorKind, awaitResult.Reason)
	}

	logger.Info("PaymentWorkflow completed",
		"signature", result.Signature,
		"status", result.Status,
	)
	return result, nil
}

// paymentFailed fails the workflow with an application error typed by the
// pipeline Kind. The partial result rides along as the error details.
func paymentFailed(msg, kind string, cause error, result *PaymentWorkflowResult) error {
	return temporalsdk.NewNonRetryableApplicationError(msg, kind, cause, result)
}

// errorType returns the application error type carried by an activity error.
func errorType(err error) string {
	var appErr *temporalsdk.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	return ""
}
