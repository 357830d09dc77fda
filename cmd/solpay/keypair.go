package main

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/brojonat/solpay/service/transfer"
	solanago "github.com/gagliardetto/solana-go"
)

// keypairSigner signs with a key held on disk. It fails when the
// transaction needs any other signer.
type keypairSigner struct {
	key solanago.PrivateKey
}

var _ transfer.Signer = (*keypairSigner)(nil)

func loadKeypairSigner(path string) (*keypairSigner, error) {
	key, err := solanago.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair %s: %w", path, err)
	}
	return &keypairSigner{key: key}, nil
}

func (s *keypairSigner) PublicKey() solanago.PublicKey {
	return s.key.PublicKey()
}

func (s *keypairSigner) SignTransaction(ctx context.Context, unsignedBase64 string) (string, error) {
	tx, _, err := transfer.DecodeTransaction(unsignedBase64)
	if err != nil {
		return "", err
	}

	if _, err := tx.Sign(func(pub solanago.PublicKey) *solanago.PrivateKey {
		if pub.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize signed transaction: %w", err)
	}
	return encodeBase64(raw), nil
}

func encodeBase64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
