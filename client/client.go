package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/solpay/service/transfer"
)

// PaymentEvent is a payment lifecycle event as streamed by the server.
type PaymentEvent struct {
	Type        string    `json:"type"` // submitted, confirmed, finalized, expired, rejected
	Signature   string    `json:"signature"`
	FeePayer    string    `json:"fee_payer,omitempty"`
	Recipient   *string   `json:"recipient,omitempty"`
	Amount      uint64    `json:"amount"`
	TokenMint   *string   `json:"token_mint,omitempty"`
	Memo        *string   `json:"memo,omitempty"`
	References  []string  `json:"references,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Submission is the server's answer to a submitted transaction.
type Submission struct {
	Signature  string `json:"signature"`
	Status     string `json:"status"`
	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`
}

// PayLink is a freshly minted Solana Pay URL with its reference key.
type PayLink struct {
	ID                    string `json:"id"`
	URL                   string `json:"url"`
	Reference             string `json:"reference"`
	TransactionRequestURL string `json:"transaction_request_url,omitempty"`
	QRCode                string `json:"qr_code,omitempty"`
}

// APIError is a non-2xx response. Kind is set when the server classified
// the failure.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("request failed (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("request failed: %s", e.Message)
}

// Client is the HTTP client for the solpay service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new payment service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// SubmitTransaction hands a signed transaction to the server. finality may be
// empty to use the server default; lastValidBlockHeight may be zero.
func (c *Client) SubmitTransaction(ctx context.Context, signedBase64, finality string, lastValidBlockHeight uint64) (*Submission, error) {
	body, err := json.Marshal(map[string]interface{}{
		"transaction":             signedBase64,
		"finality":                finality,
		"last_valid_block_height": lastValidBlockHeight,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, parseErrorResponse(resp)
	}

	var out Submission
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("transaction submitted", "signature", out.Signature, "workflow_id", out.WorkflowID)
	return &out, nil
}

// Status returns the confirmation status of a signature.
func (c *Client) Status(ctx context.Context, signature string) (string, error) {
	u := fmt.Sprintf("%s/api/v1/transactions/%s", c.baseURL, url.PathEscape(signature))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", parseErrorResponse(resp)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Status, nil
}

// PayURL asks the server for a new transfer-request URL. amount may be empty
// to use the merchant default.
func (c *Client) PayURL(ctx context.Context, amount, memo, message string) (*PayLink, error) {
	params := url.Values{}
	if amount != "" {
		params.Set("amount", amount)
	}
	if memo != "" {
		params.Set("memo", memo)
	}
	if message != "" {
		params.Set("message", message)
	}

	u := c.baseURL + "/api/v1/pay/url"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	var out PayLink
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}
	return nil
}

// WatchEvents streams payment events until ctx is done, the server closes
// the stream, or fn returns an error. An empty signature follows every payment.
// Returning ErrStopWatching from fn ends the watch without error.
func (c *Client) WatchEvents(ctx context.Context, signature string, fn func(*PaymentEvent) error) error {
	u := c.baseURL + "/api/v1/events"
	if signature != "" {
		u += "/" + url.PathEscape(signature)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream has no deadline of its own; ctx bounds it.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}

	c.logger.Debug("connected to event stream", "url", u)

	scanner := bufio.NewScanner(resp.Body)
	var eventType, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if eventType == "payment" && data != "" {
				var event PaymentEvent
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					c.logger.Warn("failed to decode payment event", "error", err)
				} else if err := fn(&event); err != nil {
					if errors.Is(err, ErrStopWatching) {
						return nil
					}
					return err
				}
			}
			if eventType == "error" {
				return fmt.Errorf("event stream error: %s", data)
			}
			eventType, data = "", ""
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event stream read failed: %w", err)
	}
	return ctx.Err()
}

// ErrStopWatching ends WatchEvents cleanly when returned from its callback.
var ErrStopWatching = errors.New("stop watching")

// parseErrorResponse attempts to parse an error response from the server.
func parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Kind: errResp.Kind}
}

// asTransferError turns a classified API error back into a pipeline error so
// callers can use errors.Is against the transfer sentinels.
func asTransferError(op string, err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	kind, ok := transfer.ParseKind(apiErr.Kind)
	if !ok {
		return err
	}
	return &transfer.Error{Kind: kind, Op: op, Reason: apiErr.Message}
}
