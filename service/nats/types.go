package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/solpay/service/solana"
	"github.com/brojonat/solpay/service/transfer"
)

// EventType is the lifecycle stage a payment event reports.
type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventConfirmed EventType = "confirmed"
	EventFinalized EventType = "finalized"
	EventExpired   EventType = "expired"
	EventRejected  EventType = "rejected"
)

// PaymentEvent represents a payment lifecycle event published to NATS.
// This is published to the subject "payments.{signature}" in JetStream.
type PaymentEvent struct {
	Type      EventType `json:"type"`
	Signature string    `json:"signature"`

	// Transfer details, taken from the signed transaction when it decodes
	FeePayer   string   `json:"fee_payer,omitempty"`
	Recipient  *string  `json:"recipient,omitempty"`
	Amount     uint64   `json:"amount"`
	TokenMint  *string  `json:"token_mint,omitempty"`
	Memo       *string  `json:"memo,omitempty"`
	References []string `json:"references,omitempty"`

	// Failure details for rejected and expired events
	ErrorKind string `json:"error_kind,omitempty"`
	Reason    string `json:"reason,omitempty"`

	WorkflowID string `json:"workflow_id,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the JetStream subject for a signature.
func Subject(signature string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, signature)
}

// NewPaymentEvent builds an event for signature, copying transfer details
// from desc when it is non-nil.
func NewPaymentEvent(eventType EventType, signature string, desc *solana.Description) *PaymentEvent {
	event := &PaymentEvent{
		Type:        eventType,
		Signature:   signature,
		PublishedAt: time.Now().UTC(),
	}
	if desc == nil {
		return event
	}

	event.FeePayer = desc.FeePayer
	event.Memo = desc.Memo
	if desc.Transfer != nil {
		event.Recipient = desc.Transfer.ToAddress
		event.Amount = desc.Transfer.Amount
		event.TokenMint = desc.Transfer.TokenMint
		event.References = desc.Transfer.References
	}
	return event
}

// EventForStatus maps a terminal or landed confirmation status to its event type.
func EventForStatus(status transfer.ConfirmationStatus) (EventType, bool) {
	switch status {
	case transfer.StatusConfirmed:
		return EventConfirmed, true
	case transfer.StatusFinalized:
		return EventFinalized, true
	case transfer.StatusExpired:
		return EventExpired, true
	case transfer.StatusFailed:
		return EventRejected, true
	default:
		return "", false
	}
}

// WithError records the failure carried by err on the event.
func (e *PaymentEvent) WithError(err error) *PaymentEvent {
	if err == nil {
		return e
	}
	e.ErrorKind = string(transfer.KindOf(err))
	e.Reason = err.Error()
	return e
}
