package solana

// Description is a human-readable summary of a wire transaction.
// It is for display and logging only and is never used to validate a payment.
type Description struct {
	FeePayer     string          `json:"fee_payer"`
	Blockhash    string          `json:"blockhash"`
	Signers      []SignerState   `json:"signers"`
	Instructions int             `json:"instructions"`
	Memo         *string         `json:"memo,omitempty"`
	Transfer     *TransferDetail `json:"transfer,omitempty"`
}

// SignerState reports whether a required signer has filled its slot.
type SignerState struct {
	Address string `json:"address"`
	Signed  bool   `json:"signed"`
}

// TransferDetail is the first transfer instruction found in a transaction.
type TransferDetail struct {
	Kind        string   `json:"kind"` // "sol" or "spl-token"
	Amount      uint64   `json:"amount"`
	Decimals    *uint8   `json:"decimals,omitempty"`
	TokenMint   *string  `json:"token_mint,omitempty"`
	FromAddress *string  `json:"from_address,omitempty"`
	ToAddress   *string  `json:"to_address,omitempty"`
	References  []string `json:"references,omitempty"`
}

// FullySigned reports whether every required signature is present.
func (d *Description) FullySigned() bool {
	for _, s := range d.Signers {
		if !s.Signed {
			return false
		}
	}
	return true
}
