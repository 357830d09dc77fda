package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/brojonat/solpay/service/solana"
	"github.com/brojonat/solpay/service/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestSubject(t *testing.T) {
	assert.Equal(t, "payments.5j7s6Ni", Subject("5j7s6Ni"))
}

func TestNewPaymentEvent(t *testing.T) {
	t.Run("without description", func(t *testing.T) {
		event := NewPaymentEvent(EventSubmitted, "sig", nil)
		assert.Equal(t, EventSubmitted, event.Type)
		assert.Equal(t, "sig", event.Signature)
		assert.Zero(t, event.Amount)
		assert.False(t, event.PublishedAt.IsZero())
	})

	t.Run("copies transfer details", func(t *testing.T) {
		desc := &solana.Description{
			FeePayer: "payer",
			Memo:     strPtr(`{"order":7}`),
			Transfer: &solana.TransferDetail{
				Kind:       "spl-token",
				Amount:     2_500_000,
				TokenMint:  strPtr("mint"),
				ToAddress:  strPtr("recipient-ata"),
				References: []string{"ref1"},
			},
		}

		event := NewPaymentEvent(EventConfirmed, "sig", desc)
		assert.Equal(t, "payer", event.FeePayer)
		assert.Equal(t, uint64(2_500_000), event.Amount)
		assert.Equal(t, "mint", *event.TokenMint)
		assert.Equal(t, "recipient-ata", *event.Recipient)
		assert.Equal(t, `{"order":7}`, *event.Memo)
		assert.Equal(t, []string{"ref1"}, event.References)
	})
}

func TestEventForStatus(t *testing.T) {
	tests := []struct {
		status transfer.ConfirmationStatus
		want   EventType
		ok     bool
	}{
		{transfer.StatusConfirmed, EventConfirmed, true},
		{transfer.StatusFinalized, EventFinalized, true},
		{transfer.StatusExpired, EventExpired, true},
		{transfer.StatusFailed, EventRejected, true},
		{transfer.StatusPending, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			got, ok := EventForStatus(tt.status)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPaymentEvent_WithError(t *testing.T) {
	event := NewPaymentEvent(EventRejected, "sig", nil).
		WithError(&transfer.Error{Kind: transfer.KindTransactionRejected, Op: "submit", Reason: "blockhash not found"})

	assert.Equal(t, "transaction_rejected", event.ErrorKind)
	assert.Contains(t, event.Reason, "blockhash not found")

	plain := NewPaymentEvent(EventExpired, "sig", nil).WithError(nil)
	assert.Empty(t, plain.ErrorKind)
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	pub := NewMockPublisher()

	require.NoError(t, pub.PublishPaymentEvent(ctx, NewPaymentEvent(EventSubmitted, "a", nil)))
	require.NoError(t, pub.PublishPaymentEvent(ctx, NewPaymentEvent(EventConfirmed, "a", nil)))
	require.NoError(t, pub.PublishPaymentEvent(ctx, NewPaymentEvent(EventSubmitted, "b", nil)))

	assert.Equal(t, 3, pub.GetPublishedEventCount())
	assert.Len(t, pub.GetPublishedEventsForSignature("a"), 2)

	pub.SetPublishError(errors.New("nats down"))
	assert.Error(t, pub.PublishPaymentEvent(ctx, NewPaymentEvent(EventFinalized, "a", nil)))
	assert.Equal(t, 3, pub.GetPublishedEventCount())

	require.NoError(t, pub.Close())
	assert.True(t, pub.IsClosed())

	pub.Reset()
	assert.Zero(t, pub.GetPublishedEventCount())
	assert.False(t, pub.IsClosed())
}
