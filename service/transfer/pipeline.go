package transfer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solpay/service/metrics"
	"github.com/gagliardetto/solana-go"
)

// Options configures a Pipeline.
type Options struct {
	Finality Finality      // target finality; defaults to confirmed
	Driver   DriverConfig  // submission and polling settings
	Remote   RemoteBuilder // required for StrategyRemote
}

// Pipeline wires validation, building, signing, submission and confirmation
// together. It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	validator *Validator
	assembler *Assembler
	driver    *Driver
	remote    RemoteBuilder
	finality  Finality
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewPipeline creates a Pipeline over conn. If m is nil no metrics are recorded.
func NewPipeline(conn Connection, opts Options, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	finality := opts.Finality
	if finality == "" {
		finality = FinalityConfirmed
	}
	return &Pipeline{
		validator: NewValidator(conn, finality.Commitment(), logger),
		assembler: NewAssembler(conn, logger),
		driver:    NewDriver(conn, opts.Driver, logger),
		remote:    opts.Remote,
		finality:  finality,
		metrics:   m,
		logger:    logger,
	}
}

// Driver exposes the submission driver for callers that already hold signed bytes.
func (p *Pipeline) Driver() *Driver {
	return p.driver
}

// Finality returns the target finality.
func (p *Pipeline) Finality() Finality {
	return p.finality
}

// BuiltTransaction is an unsigned transaction ready for the signer.
type BuiltTransaction struct {
	Strategy             Strategy
	Base64               string
	Message              string // remote endpoint's display message, if any
	LastValidBlockHeight uint64
	Unsigned             *UnsignedTransaction // nil for StrategyRemote
}

// Result is the outcome of a successful payment.
type Result struct {
	Signature solana.Signature
	Status    ConfirmationStatus
}

// Build produces the unsigned transaction for req using the given strategy.
func (p *Pipeline) Build(ctx context.Context, strategy Strategy, req TransferRequest) (*BuiltTransaction, error) {
	var (
		built *BuiltTransaction
		err   error
	)
	switch strategy {
	case StrategyLocal, "":
		built, err = p.buildLocal(ctx, req)
	case StrategyRemote:
		built, err = p.buildRemote(ctx, req)
	default:
		err = newError(KindInvalidTransaction, "build", fmt.Errorf("unknown strategy %q", strategy))
	}

	if p.metrics != nil {
		p.metrics.RecordTransferBuilt(string(strategy), req.AssetLabel(), outcome(err))
	}
	if err != nil {
		p.logger.WarnContext(ctx, "failed to build transfer",
			"strategy", string(strategy),
			"asset", req.AssetLabel(),
			"error", err,
		)
		return nil, err
	}
	return built, nil
}

func (p *Pipeline) buildLocal(ctx context.Context, req TransferRequest) (*BuiltTransaction, error) {
	plan, err := p.validator.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	instructions, err := BuildInstructions(plan)
	if err != nil {
		return nil, err
	}
	unsigned, err := p.assembler.Assemble(ctx, req.Sender, instructions, p.finality)
	if err != nil {
		return nil, err
	}
	return &BuiltTransaction{
		Strategy:             StrategyLocal,
		Base64:               unsigned.Base64,
		LastValidBlockHeight: unsigned.Checkpoint.LastValidBlockHeight,
		Unsigned:             unsigned,
	}, nil
}

func (p *Pipeline) buildRemote(ctx context.Context, req TransferRequest) (*BuiltTransaction, error) {
	if p.remote == nil {
		return nil, newError(KindRemoteBuildFailed, "build", errors.New("no transaction-request endpoint configured"))
	}

	out, err := p.remote.BuildTransaction(ctx, remoteRequest(req))
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, e
		}
		return nil, newError(KindRemoteBuildFailed, "build", err)
	}
	if out == nil || out.Base64 == "" {
		return nil, newError(KindRemoteBuildFailed, "build", errors.New("endpoint returned no transaction"))
	}
	if _, _, err := DecodeTransaction(out.Base64); err != nil {
		return nil, newError(KindRemoteBuildFailed, "build", err)
	}

	// The endpoint picked its own blockhash, at most as new as the latest one,
	// so the latest ceiling bounds it from above.
	ceiling, err := p.driver.Ceiling(ctx, p.finality)
	if err != nil {
		return nil, err
	}

	return &BuiltTransaction{
		Strategy:             StrategyRemote,
		Base64:               out.Base64,
		Message:              out.Message,
		LastValidBlockHeight: ceiling,
	}, nil
}

// Sign hands the unsigned transaction to signer and returns the signed bytes.
func (p *Pipeline) Sign(ctx context.Context, signer Signer, built *BuiltTransaction) ([]byte, error) {
	if signer == nil {
		return nil, newError(KindSigningUnsupported, "sign", nil)
	}

	signed, err := signer.SignTransaction(ctx, built.Base64)
	if err != nil {
		kind := KindSigningFailed
		if errors.Is(err, ErrSigningDeclined) {
			kind = KindSigningDeclined
		}
		if p.metrics != nil {
			p.metrics.RecordSigning(string(kind))
		}
		return nil, newError(kind, "sign", err)
	}

	raw, err := base64.StdEncoding.DecodeString(signed)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordSigning(string(KindInvalidTransaction))
		}
		return nil, newError(KindInvalidTransaction, "sign", fmt.Errorf("signer returned invalid base64: %w", err))
	}
	if p.metrics != nil {
		p.metrics.RecordSigning("success")
	}
	return raw, nil
}

// Confirm submits signed bytes and waits for the target finality.
func (p *Pipeline) Confirm(ctx context.Context, raw []byte, lastValidBlockHeight uint64) (Result, error) {
	sig, err := p.driver.Submit(ctx, raw)
	if p.metrics != nil {
		p.metrics.RecordSubmission(outcome(err))
	}
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	status, err := p.driver.Await(ctx, sig, p.finality, lastValidBlockHeight)
	if p.metrics != nil {
		p.metrics.RecordConfirmation(string(status), time.Since(start).Seconds())
	}
	if err != nil {
		return Result{Signature: sig, Status: status}, err
	}
	return Result{Signature: sig, Status: status}, nil
}

// Pay runs the whole pipeline: build, sign, submit, confirm. A signer that
// cannot sign is rejected before any network call.
func (p *Pipeline) Pay(ctx context.Context, strategy Strategy, req TransferRequest, signer Signer) (Result, error) {
	if signer == nil {
		return Result{}, newError(KindSigningUnsupported, "sign", nil)
	}

	built, err := p.Build(ctx, strategy, req)
	if err != nil {
		return Result{}, err
	}

	raw, err := p.Sign(ctx, signer, built)
	if err != nil {
		return Result{}, err
	}

	result, err := p.Confirm(ctx, raw, built.LastValidBlockHeight)
	if err != nil {
		p.logger.WarnContext(ctx, "payment did not complete",
			"signature", result.Signature.String(),
			"status", string(result.Status),
			"error", err,
		)
		return result, err
	}

	p.logger.InfoContext(ctx, "payment complete",
		"signature", result.Signature.String(),
		"status", string(result.Status),
		"asset", req.AssetLabel(),
	)
	return result, nil
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
