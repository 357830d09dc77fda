package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/brojonat/solpay/service/transfer"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeKeypair stores key in solana-keygen JSON format and returns the path.
func writeKeypair(t *testing.T, key solanago.PrivateKey) string {
	t.Helper()

	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func unsignedTransfer(t *testing.T, payer solanago.PublicKey) string {
	t.Helper()

	ixs, err := transfer.BuildInstructions(&transfer.TransferPlan{
		Sender:    payer,
		Recipient: solanago.NewWallet().PublicKey(),
		Decimals:  9,
		Amount:    250_000,
		Memo:      "order-42",
	})
	require.NoError(t, err)

	unsigned, err := transfer.AssembleWithCheckpoint(payer, transfer.Checkpoint{
		Blockhash:            solanago.Hash{3, 1, 4},
		LastValidBlockHeight: 1200,
	}, ixs)
	require.NoError(t, err)
	return unsigned.Base64
}

func TestKeypairSigner_Signs(t *testing.T) {
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)

	signer, err := loadKeypairSigner(writeKeypair(t, key))
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), signer.PublicKey())

	signed, err := signer.SignTransaction(context.Background(), unsignedTransfer(t, key.PublicKey()))
	require.NoError(t, err)

	tx, _, err := transfer.DecodeTransaction(signed)
	require.NoError(t, err)
	assert.Empty(t, transfer.MissingSignatures(tx))
	require.NoError(t, tx.VerifySignatures())
}

func TestKeypairSigner_WrongKey(t *testing.T) {
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	other, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)

	signer, err := loadKeypairSigner(writeKeypair(t, key))
	require.NoError(t, err)

	_, err = signer.SignTransaction(context.Background(), unsignedTransfer(t, other.PublicKey()))
	assert.Error(t, err)
}

func TestKeypairSigner_BadInput(t *testing.T) {
	_, err := loadKeypairSigner(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	signer, err := loadKeypairSigner(writeKeypair(t, key))
	require.NoError(t, err)

	_, err = signer.SignTransaction(context.Background(), "not base64!")
	require.Error(t, err)
	assert.Equal(t, transfer.KindInvalidTransaction, transfer.KindOf(err))
}
