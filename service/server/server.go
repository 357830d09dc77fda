package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brojonat/solpay/service/config"
	"github.com/brojonat/solpay/service/metrics"
	natspkg "github.com/brojonat/solpay/service/nats"
	"github.com/brojonat/solpay/service/temporal"
	"github.com/brojonat/solpay/service/transfer"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TransactionBuilder produces unsigned transactions for the transaction-request endpoint.
type TransactionBuilder interface {
	Build(ctx context.Context, strategy transfer.Strategy, req transfer.TransferRequest) (*transfer.BuiltTransaction, error)
	Finality() transfer.Finality
}

// TransactionDriver submits signed bytes and follows them to finality.
type TransactionDriver interface {
	Submit(ctx context.Context, raw []byte) (solanago.Signature, error)
	Status(ctx context.Context, sig solanago.Signature) (transfer.ConfirmationStatus, error)
	Await(ctx context.Context, sig solanago.Signature, target transfer.Finality, lastValidBlockHeight uint64) (transfer.ConfirmationStatus, error)
	Ceiling(ctx context.Context, finality transfer.Finality) (uint64, error)
}

// PaymentStarter starts durable payment workflows.
type PaymentStarter interface {
	StartPayment(ctx context.Context, signature string, input temporal.PaymentWorkflowInput) (workflowID string, runID string, err error)
}

// HealthChecker reports whether the RPC node is usable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies are the collaborators the server routes requests to.
// Builder and Driver are required; the rest are optional.
type Dependencies struct {
	Builder   TransactionBuilder
	Driver    TransactionDriver
	Payments  PaymentStarter    // nil submits directly instead of starting a workflow
	Publisher natspkg.Publisher // nil drops payment events in direct mode
	Events    *EventStream      // nil disables the SSE endpoints
	Health    HealthChecker
}

// Server represents the HTTP server for the payment service.
type Server struct {
	addr    string
	cfg     *config.Config
	deps    Dependencies
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server

	// background confirmation waits started in direct mode
	baseCtx context.Context
	cancel  context.CancelFunc
	waits   sync.WaitGroup
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, deps Dependencies, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    addr,
		cfg:     cfg,
		deps:    deps,
		metrics: m,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Handler builds the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Transaction-request endpoints (Solana Pay)
	if s.cfg.Pay.Enabled() {
		mux.Handle("GET /api/v1/pay", handlePayMetadata(&s.cfg.Pay))
		mux.Handle("POST /api/v1/pay", handlePayTransaction(s.deps.Builder, &s.cfg.Pay, s.logger))
		mux.Handle("GET /api/v1/pay/url", handlePayURL(&s.cfg.Pay, s.logger))
		s.logger.Info("transaction-request endpoints enabled", "recipient", s.cfg.Pay.Recipient)
	} else {
		s.logger.Warn("PAY_RECIPIENT not configured, transaction-request endpoints disabled")
	}

	// Submission and status
	mux.Handle("POST /api/v1/transactions", s.handleSubmitTransaction())
	mux.Handle("GET /api/v1/transactions/{signature}", handleTransactionStatus(s.deps.Driver, s.logger))

	// SSE streaming endpoints (if the event stream is configured)
	if s.deps.Events != nil {
		mux.Handle("GET /api/v1/events/{signature}", handleStreamPayments(s.deps.Events, s.logger))
		mux.Handle("GET /api/v1/events", handleStreamPayments(s.deps.Events, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("event stream not configured, streaming endpoints disabled")
	}

	mux.Handle("GET /health", handleHealth(s.deps.Health, s.logger))

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return requestIDMiddleware(corsMiddleware(metrics.HTTPMetricsMiddleware(s.metrics, "")(mux)))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the event stream first (disconnects all SSE clients)
	if s.deps.Events != nil {
		s.deps.Events.Close()
	}

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	s.cancel()
	s.waits.Wait()
	return err
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
// Wallets call the transaction-request endpoint from arbitrary origins.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware echoes X-Request-ID, generating one when absent.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}
