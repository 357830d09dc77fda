package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Client starts and follows payment workflows.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return NewClientFromSDK(c, taskQueue, logger), nil
}

// NewClientFromSDK wraps an existing SDK client.
func NewClientFromSDK(c client.Client, taskQueue string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}
}

// StartPayment starts a PaymentWorkflow for a signed transaction. Starting the
// same signature twice attaches to the running workflow instead of
// submitting again.
func (c *Client) StartPayment(ctx context.Context, signature string, input PaymentWorkflowInput) (workflowID string, runID string, err error) {
	id := PaymentWorkflowID(signature)

	c.logger.DebugContext(ctx, "starting payment workflow",
		"workflow_id", id,
		"finality", input.Finality,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
		Memo: map[string]interface{}{
			"signature":  signature,
			"created_by": "solpay",
		},
	}, PaymentWorkflow, input)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to start payment workflow",
			"workflow_id", id,
			"error", err,
		)
		return "", "", fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "payment workflow started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetID(), run.GetRunID(), nil
}

// AwaitPayment blocks until the workflow for signature completes. When the
// workflow fails, the partial result it attached is returned with the error.
func (c *Client) AwaitPayment(ctx context.Context, signature string) (*PaymentWorkflowResult, error) {
	var result PaymentWorkflowResult
	run := c.client.GetWorkflow(ctx, PaymentWorkflowID(signature), "")
	if err := run.Get(ctx, &result); err != nil {
		return failedResult(err), fmt.Errorf("payment workflow failed: %w", err)
	}
	return &result, nil
}

// failedResult recovers the result carried in a workflow failure's details.
func failedResult(err error) *PaymentWorkflowResult {
	var appErr *temporalsdk.ApplicationError
	if !errors.As(err, &appErr) || !appErr.HasDetails() {
		return nil
	}
	var result PaymentWorkflowResult
	if appErr.Details(&result) != nil {
		return nil
	}
	return &result
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
