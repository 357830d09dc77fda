package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/brojonat/solpay/service/config"
	natspkg "github.com/brojonat/solpay/service/nats"
	"github.com/brojonat/solpay/service/solana"
	"github.com/brojonat/solpay/service/temporal"
	"github.com/brojonat/solpay/service/transfer"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - a signed transaction is at most 1232 bytes
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxMemoLength      = 566     // largest memo that still fits a single transaction
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

type payMetadataResponse struct {
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

type payTransactionRequest struct {
	Account string `json:"account"`
}

type payTransactionResponse struct {
	Transaction string `json:"transaction"`
	Message     string `json:"message,omitempty"`
}

type payURLResponse struct {
	ID                    string `json:"id"`
	URL                   string `json:"url"`
	Reference             string `json:"reference"`
	TransactionRequestURL string `json:"transaction_request_url,omitempty"`
	QRCode                string `json:"qr_code,omitempty"` // base64 PNG of URL
}

type submitTransactionRequest struct {
	Transaction          string `json:"transaction"` // signed, base64 wire bytes
	Finality             string `json:"finality,omitempty"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height,omitempty"`
}

type submitTransactionResponse struct {
	Signature  string `json:"signature"`
	Status     string `json:"status"`
	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`
}

type transactionStatusResponse struct {
	Signature string `json:"signature"`
	Status    string `json:"status"`
}

// handlePayMetadata returns the label and icon a wallet shows before the payer
// approves a transaction request.
// GET /api/v1/pay
func handlePayMetadata(cfg *config.PayConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, payMetadataResponse{Label: cfg.Label, Icon: cfg.IconURL}, http.StatusOK)
	})
}

// handlePayTransaction builds an unsigned transfer from the posted account to
// the merchant. Query parameters override the configured recipient, amount and
// mint; reference and memo pass through to the instructions.
// POST /api/v1/pay?amount=&spl-token=&reference=&memo=&recipient=
func handlePayTransaction(builder TransactionBuilder, cfg *config.PayConfig, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var body payTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		sender, err := parsePublicKey("account", body.Account)
		if err != nil {
			logger.DebugContext(r.Context(), "invalid account", "account", body.Account, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		req, err := transferRequestFromQuery(r.URL.Query(), cfg)
		if err != nil {
			writeTransferError(w, err)
			return
		}
		req.Sender = sender

		built, err := builder.Build(r.Context(), transfer.StrategyLocal, req)
		if err != nil {
			logger.WarnContext(r.Context(), "failed to build transaction request",
				"account", body.Account,
				"request_id", r.Header.Get("X-Request-ID"),
				"error", err,
			)
			writeTransferError(w, err)
			return
		}

		logger.InfoContext(r.Context(), "transaction request built",
			"account", body.Account,
			"recipient", req.Recipient.String(),
			"asset", req.AssetLabel(),
			"amount", req.Amount.String(),
			"references", len(req.References),
		)

		writeJSON(w, payTransactionResponse{
			Transaction: built.Base64,
			Message:     r.URL.Query().Get("message"),
		}, http.StatusOK)
	})
}

// handlePayURL mints a transfer-request URL for the merchant with a fresh
// reference key, plus a QR code of it. When the public base URL is known the
// matching transaction-request URL is returned as well.
// GET /api/v1/pay/url?amount=&memo=&message=
func handlePayURL(cfg *config.PayConfig, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		req, err := transferRequestFromQuery(query, cfg)
		if err != nil {
			// A URL without an amount lets the payer choose.
			if transfer.KindOf(err) != transfer.KindInvalidAmount || query.Get("amount") != "" {
				writeTransferError(w, err)
				return
			}
			req.Amount = decimal.Zero
		}

		reference := solanago.NewWallet().PublicKey()
		req.References = append(req.References, reference)

		message := query.Get("message")
		resp := payURLResponse{
			ID:        uuid.NewString(),
			URL:       transfer.TransferURL(req, cfg.Label, message),
			Reference: reference.String(),
		}

		if cfg.BaseURL != "" {
			link, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/api/v1/pay")
			if err == nil {
				params := url.Values{}
				params.Set("reference", reference.String())
				if req.Amount.IsPositive() {
					params.Set("amount", req.Amount.String())
				}
				if req.Memo != "" {
					params.Set("memo", req.Memo)
				}
				link.RawQuery = params.Encode()
				resp.TransactionRequestURL = transfer.TransactionRequestURL(link, cfg.Label, message)
			}
		}

		if query.Get("qr") != "false" {
			qr, err := generateQRCode(resp.URL)
			if err != nil {
				// QR code is optional
				logger.WarnContext(r.Context(), "failed to generate QR code", "error", err)
			}
			resp.QRCode = qr
		}

		logger.DebugContext(r.Context(), "pay URL generated", "id", resp.ID, "reference", resp.Reference)
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleSubmitTransaction accepts a fully signed transaction. With Temporal
// configured it starts a PaymentWorkflow; otherwise it submits directly and
// follows confirmation in the background.
// POST /api/v1/transactions
func (s *Server) handleSubmitTransaction() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var body submitTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if body.Transaction == "" {
			writeError(w, "transaction is required", http.StatusBadRequest)
			return
		}

		tx, raw, err := transfer.DecodeTransaction(body.Transaction)
		if err != nil {
			writeTransferError(w, err)
			return
		}
		if missing := transfer.MissingSignatures(tx); len(missing) > 0 {
			writeTransferError(w, &transfer.Error{
				Kind:   transfer.KindInvalidTransaction,
				Op:     "submit",
				Reason: fmt.Sprintf("missing %d of %d required signatures", len(missing), tx.Message.Header.NumRequiredSignatures),
			})
			return
		}
		sig := tx.Signatures[0]

		finality := s.cfg.Finality
		if body.Finality != "" {
			f, ok := transfer.ParseFinality(body.Finality)
			if !ok {
				writeError(w, fmt.Sprintf("invalid finality %q: must be 'confirmed' or 'finalized'", body.Finality), http.StatusBadRequest)
				return
			}
			finality = f
		}
		if finality == "" {
			finality = transfer.FinalityConfirmed
		}

		if s.deps.Payments != nil {
			workflowID, runID, err := s.deps.Payments.StartPayment(r.Context(), sig.String(), temporal.PaymentWorkflowInput{
				SignedTransaction:    body.Transaction,
				Finality:             string(finality),
				LastValidBlockHeight: body.LastValidBlockHeight,
			})
			if err != nil {
				s.logger.ErrorContext(r.Context(), "failed to start payment workflow",
					"signature", sig.String(),
					"error", err,
				)
				writeError(w, "failed to start payment", http.StatusInternalServerError)
				return
			}
			writeJSON(w, submitTransactionResponse{
				Signature:  sig.String(),
				Status:     string(transfer.StatusPending),
				WorkflowID: workflowID,
				RunID:      runID,
			}, http.StatusAccepted)
			return
		}

		if _, err := s.deps.Driver.Submit(r.Context(), raw); err != nil {
			if transfer.KindOf(err) == transfer.KindTransactionRejected {
				s.publish(r.Context(), natspkg.EventRejected, sig.String(), body.Transaction, err)
			}
			s.logger.WarnContext(r.Context(), "direct submit failed", "signature", sig.String(), "error", err)
			writeTransferError(w, err)
			return
		}
		s.publish(r.Context(), natspkg.EventSubmitted, sig.String(), body.Transaction, nil)

		ceiling := body.LastValidBlockHeight
		if ceiling == 0 {
			ceiling, err = s.deps.Driver.Ceiling(r.Context(), finality)
			if err != nil {
				s.logger.WarnContext(r.Context(), "could not resolve confirmation ceiling, not following transaction",
					"signature", sig.String(),
					"error", err,
				)
			}
		}
		if ceiling > 0 {
			s.waits.Add(1)
			go s.follow(sig, finality, ceiling, body.Transaction)
		}

		writeJSON(w, submitTransactionResponse{
			Signature: sig.String(),
			Status:    string(transfer.StatusPending),
		}, http.StatusAccepted)
	})
}

// follow waits for a directly submitted transaction to settle and publishes
// the terminal event.
func (s *Server) follow(sig solanago.Signature, finality transfer.Finality, ceiling uint64, signed string) {
	defer s.waits.Done()

	status, err := s.deps.Driver.Await(s.baseCtx, sig, finality, ceiling)
	if err != nil && transfer.KindOf(err) == "" {
		s.logger.Warn("stopped following transaction", "signature", sig.String(), "error", err)
		return
	}

	eventType, ok := natspkg.EventForStatus(status)
	if !ok {
		return
	}
	s.publish(s.baseCtx, eventType, sig.String(), signed, err)
}

func (s *Server) publish(ctx context.Context, eventType natspkg.EventType, signature, signed string, cause error) {
	if s.deps.Publisher == nil {
		s.logger.DebugContext(ctx, "payment event (no publisher configured)", "type", eventType, "signature", signature)
		return
	}

	desc, err := solana.Describe(signed)
	if err != nil {
		desc = nil
	}
	event := natspkg.NewPaymentEvent(eventType, signature, desc)
	if cause != nil {
		event.WithError(cause)
	}
	if err := s.deps.Publisher.PublishPaymentEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish payment event",
			"type", eventType,
			"signature", signature,
			"error", err,
		)
	}
}

// handleTransactionStatus reports the current confirmation status of a signature.
// GET /api/v1/transactions/{signature}
func handleTransactionStatus(driver TransactionDriver, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.PathValue("signature")
		sig, err := solanago.SignatureFromBase58(raw)
		if err != nil {
			writeError(w, "invalid signature", http.StatusBadRequest)
			return
		}

		status, err := driver.Status(r.Context(), sig)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get transaction status", "signature", raw, "error", err)
			writeTransferError(w, err)
			return
		}

		writeJSON(w, transactionStatusResponse{Signature: sig.String(), Status: string(status)}, http.StatusOK)
	})
}

// handleHealth reports whether the RPC node answers.
// GET /health
func handleHealth(checker HealthChecker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.Health(r.Context()); err != nil {
				logger.WarnContext(r.Context(), "health check failed", "error", err)
				writeError(w, "rpc node unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// transferRequestFromQuery reads recipient, amount, spl-token, reference and
// memo, falling back to the merchant configuration. Sender is left unset.
func transferRequestFromQuery(query url.Values, cfg *config.PayConfig) (transfer.TransferRequest, error) {
	var req transfer.TransferRequest

	recipient := query.Get("recipient")
	if recipient == "" {
		recipient = cfg.Recipient
	}
	key, err := parsePublicKey("recipient", recipient)
	if err != nil {
		return req, &transfer.Error{Kind: transfer.KindInvalidTransaction, Op: "request", Reason: err.Error()}
	}
	req.Recipient = key

	mint := query.Get("spl-token")
	if mint == "" {
		mint = cfg.Mint
	}
	if mint != "" {
		key, err := parsePublicKey("spl-token", mint)
		if err != nil {
			return req, &transfer.Error{Kind: transfer.KindInvalidTransaction, Op: "request", Reason: err.Error()}
		}
		req.Mint = &key
	}

	for _, ref := range query["reference"] {
		key, err := parsePublicKey("reference", ref)
		if err != nil {
			return req, &transfer.Error{Kind: transfer.KindInvalidTransaction, Op: "request", Reason: err.Error()}
		}
		req.References = append(req.References, key)
	}

	req.Memo = query.Get("memo")
	if len(req.Memo) > maxMemoLength {
		return req, &transfer.Error{Kind: transfer.KindInvalidTransaction, Op: "request", Reason: fmt.Sprintf("memo exceeds %d bytes", maxMemoLength)}
	}

	req.Amount = cfg.Amount
	if value := query.Get("amount"); value != "" {
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return req, &transfer.Error{Kind: transfer.KindInvalidAmount, Op: "request", Reason: fmt.Sprintf("amount %q is not a decimal", value)}
		}
		req.Amount = amount
	}
	if !req.Amount.IsPositive() {
		return req, &transfer.Error{Kind: transfer.KindInvalidAmount, Op: "request", Reason: "amount must be positive"}
	}

	return req, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeTransferError writes a pipeline error with its kind so clients can
// branch without parsing messages.
func writeTransferError(w http.ResponseWriter, err error) {
	kind := transfer.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(kind))
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"kind":  string(kind),
	})
}

func statusForKind(kind transfer.Kind) int {
	switch kind {
	case transfer.KindInvalidAmount, transfer.KindInvalidTransaction:
		return http.StatusBadRequest
	case transfer.KindAccountNotFound,
		transfer.KindOwnerInvalid,
		transfer.KindAccountExecutable,
		transfer.KindTokenAccountUninitialized,
		transfer.KindTokenAccountFrozen,
		transfer.KindInsufficientFunds,
		transfer.KindTransactionRejected:
		return http.StatusUnprocessableEntity
	case transfer.KindConfirmationExpired:
		return http.StatusGone
	case transfer.KindConnectionFailed, transfer.KindSubmissionFailed, transfer.KindRemoteBuildFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parsePublicKey validates and decodes a base58 address named field.
func parsePublicKey(field, value string) (solanago.PublicKey, error) {
	if err := validateAddress(value); err != nil {
		return solanago.PublicKey{}, errorf("%s: %v", field, err)
	}
	key, err := solanago.PublicKeyFromBase58(value)
	if err != nil {
		return solanago.PublicKey{}, errorf("%s: invalid address: %v", field, err)
	}
	return key, nil
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
