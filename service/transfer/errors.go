package transfer

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Kind classifies a pipeline failure. Every failure surfaced by this package
// carries exactly one Kind so callers never have to guess which step failed.
type Kind string

const (
	KindInvalidAmount             Kind = "invalid_amount"
	KindAccountNotFound           Kind = "account_not_found"
	KindOwnerInvalid              Kind = "owner_invalid"
	KindAccountExecutable         Kind = "account_executable"
	KindTokenAccountUninitialized Kind = "token_account_uninitialized"
	KindTokenAccountFrozen        Kind = "token_account_frozen"
	KindInsufficientFunds         Kind = "insufficient_funds"
	KindSigningUnsupported        Kind = "signing_unsupported"
	KindSigningDeclined           Kind = "signing_declined"
	KindSigningFailed             Kind = "signing_failed"
	KindSubmissionFailed          Kind = "submission_failed"
	KindTransactionRejected       Kind = "transaction_rejected"
	KindConfirmationExpired       Kind = "confirmation_expired"
	KindConnectionFailed          Kind = "connection_failed"
	KindInvalidTransaction        Kind = "invalid_transaction"
	KindRemoteBuildFailed         Kind = "remote_build_failed"
)

// Sentinel errors, one per Kind. Use errors.Is(err, ErrInsufficientFunds).
var (
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrAccountNotFound           = errors.New("account not found")
	ErrOwnerInvalid              = errors.New("account owner invalid")
	ErrAccountExecutable         = errors.New("account executable")
	ErrTokenAccountUninitialized = errors.New("token account not initialized")
	ErrTokenAccountFrozen        = errors.New("token account frozen")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrSigningUnsupported        = errors.New("wallet does not support transaction signing")
	ErrSigningDeclined           = errors.New("signing declined")
	ErrSigningFailed             = errors.New("signing failed")
	ErrSubmissionFailed          = errors.New("transaction submission failed")
	ErrTransactionRejected       = errors.New("transaction rejected")
	ErrConfirmationExpired       = errors.New("confirmation expired")
	ErrConnectionFailed          = errors.New("connection failed")
	ErrInvalidTransaction        = errors.New("invalid transaction")
	ErrRemoteBuildFailed         = errors.New("remote transaction build failed")
)

var sentinels = map[Kind]error{
	KindInvalidAmount:             ErrInvalidAmount,
	KindAccountNotFound:           ErrAccountNotFound,
	KindOwnerInvalid:              ErrOwnerInvalid,
	KindAccountExecutable:         ErrAccountExecutable,
	KindTokenAccountUninitialized: ErrTokenAccountUninitialized,
	KindTokenAccountFrozen:        ErrTokenAccountFrozen,
	KindInsufficientFunds:         ErrInsufficientFunds,
	KindSigningUnsupported:        ErrSigningUnsupported,
	KindSigningDeclined:           ErrSigningDeclined,
	KindSigningFailed:             ErrSigningFailed,
	KindSubmissionFailed:          ErrSubmissionFailed,
	KindTransactionRejected:       ErrTransactionRejected,
	KindConfirmationExpired:       ErrConfirmationExpired,
	KindConnectionFailed:          ErrConnectionFailed,
	KindInvalidTransaction:        ErrInvalidTransaction,
	KindRemoteBuildFailed:         ErrRemoteBuildFailed,
}

// Role identifies which account a validation failure refers to.
type Role string

const (
	RolePayer    Role = "payer"
	RoleReceiver Role = "receiver"
	RoleMint     Role = "mint"
)

// Error is the error type returned by every step of the pipeline.
type Error struct {
	Kind    Kind
	Op      string           // pipeline step, e.g. "validate", "submit"
	Role    Role             // set for account validation failures
	Account solana.PublicKey // account the failure refers to, if any
	Reason  string           // ledger or wallet supplied reason
	Err     error            // underlying cause
}

func (e *Error) Error() string {
	kind := string(e.Kind)
	if sentinel, ok := sentinels[e.Kind]; ok {
		kind = sentinel.Error()
	}
	msg := kind
	if e.Op != "" {
		msg = e.Op + ": " + kind
	}
	if e.Role != "" {
		msg += fmt.Sprintf(" (%s", e.Role)
		if !e.Account.IsZero() {
			msg += " " + e.Account.String()
		}
		msg += ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's Kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && sentinel == target
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func accountError(kind Kind, role Role, account solana.PublicKey) *Error {
	return &Error{Kind: kind, Op: "validate", Role: role, Account: account}
}

// KindOf returns the Kind of err, or "" if err did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the failed operation may be repeated as-is.
// Resending identical signed bytes is safe because the ledger deduplicates
// by signature.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindSubmissionFailed, KindConnectionFailed:
		return true
	default:
		return false
	}
}

// ParseKind maps the wire name of a Kind back to it.
func ParseKind(s string) (Kind, bool) {
	kind := Kind(s)
	_, ok := sentinels[kind]
	return kind, ok
}
