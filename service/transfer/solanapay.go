package transfer

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const payScheme = "solana"

// PayURL is a decoded Solana Pay URL. Exactly one of Recipient (a transfer
// request) or Link (a transaction request) is set.
type PayURL struct {
	Recipient  solana.PublicKey
	Amount     decimal.Decimal // zero means the payer chooses
	Mint       *solana.PublicKey
	References []solana.PublicKey
	Label      string
	Message    string
	Memo       string

	Link *url.URL
}

// IsTransactionRequest reports whether the URL points at an endpoint that
// builds the transaction rather than describing the transfer itself.
func (p *PayURL) IsTransactionRequest() bool {
	return p.Link != nil
}

// TransferRequest turns a transfer-request URL into a TransferRequest paid by sender.
func (p *PayURL) TransferRequest(sender solana.PublicKey) (TransferRequest, error) {
	if p.IsTransactionRequest() {
		return TransferRequest{}, errors.New("transaction request URLs do not describe a transfer")
	}
	if !p.Amount.IsPositive() {
		return TransferRequest{}, newError(KindInvalidAmount, "parse", errors.New("URL carries no amount"))
	}
	return TransferRequest{
		Sender:     sender,
		Recipient:  p.Recipient,
		Mint:       p.Mint,
		Amount:     p.Amount,
		References: append([]solana.PublicKey(nil), p.References...),
		Memo:       p.Memo,
	}, nil
}

// ParseURL decodes "solana:<recipient>?..." and "solana:<https-url>" forms.
func ParseURL(raw string) (*PayURL, error) {
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok || scheme != payScheme {
		return nil, fmt.Errorf("not a solana pay URL: %q", raw)
	}

	// Transaction requests wrap a percent-encoded absolute URL. Anything after
	// a literal "?" belongs to the outer URL (label and message only).
	if strings.HasPrefix(rest, "https") {
		linkPart, outer, _ := strings.Cut(rest, "?")
		decoded, err := url.QueryUnescape(linkPart)
		if err != nil {
			return nil, fmt.Errorf("invalid transaction request link: %w", err)
		}
		link, err := url.Parse(decoded)
		if err != nil {
			return nil, fmt.Errorf("invalid transaction request link: %w", err)
		}
		if link.Scheme != "https" || link.Host == "" {
			return nil, fmt.Errorf("transaction request link must be an absolute https URL: %q", decoded)
		}
		query, err := url.ParseQuery(outer)
		if err != nil {
			return nil, fmt.Errorf("invalid query: %w", err)
		}
		return &PayURL{
			Link:    link,
			Label:   query.Get("label"),
			Message: query.Get("message"),
		}, nil
	}

	path, rawQuery, _ := strings.Cut(rest, "?")
	recipient, err := solana.PublicKeyFromBase58(path)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", path, err)
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	out := &PayURL{
		Recipient: recipient,
		Label:     query.Get("label"),
		Message:   query.Get("message"),
		Memo:      query.Get("memo"),
	}

	if s := query.Get("amount"); s != "" {
		amount, err := decimal.NewFromString(s)
		if err != nil || amount.IsNegative() {
			return nil, newError(KindInvalidAmount, "parse", fmt.Errorf("invalid amount %q", s))
		}
		out.Amount = amount
	}

	if s := query.Get("spl-token"); s != "" {
		mint, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("invalid spl-token %q: %w", s, err)
		}
		out.Mint = &mint
	}

	for _, s := range query["reference"] {
		ref, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("invalid reference %q: %w", s, err)
		}
		out.References = append(out.References, ref)
	}

	return out, nil
}

// String encodes the URL. Transfer requests keep their parameters in a fixed
// order so the same request always yields the same URL.
func (p *PayURL) String() string {
	var params []string
	add := func(key, value string) {
		params = append(params, key+"="+escape(value))
	}

	if p.IsTransactionRequest() {
		out := payScheme + ":" + escape(p.Link.String())
		if p.Label != "" {
			add("label", p.Label)
		}
		if p.Message != "" {
			add("message", p.Message)
		}
		if len(params) > 0 {
			out += "?" + strings.Join(params, "&")
		}
		return out
	}
	if !p.Amount.IsZero() {
		add("amount", p.Amount.String())
	}
	if p.Mint != nil {
		add("spl-token", p.Mint.String())
	}
	for _, ref := range p.References {
		add("reference", ref.String())
	}
	if p.Label != "" {
		add("label", p.Label)
	}
	if p.Message != "" {
		add("message", p.Message)
	}
	if p.Memo != "" {
		add("memo", p.Memo)
	}

	out := payScheme + ":" + p.Recipient.String()
	if len(params) > 0 {
		out += "?" + strings.Join(params, "&")
	}
	return out
}

// escape percent-encodes a URL component. Spaces become %20 so wallets that
// decode with decodeURIComponent show them correctly.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// TransferURL encodes req as a transfer-request URL.
func TransferURL(req TransferRequest, label, message string) string {
	p := &PayURL{
		Recipient:  req.Recipient,
		Amount:     req.Amount,
		Mint:       req.Mint,
		References: req.References,
		Label:      label,
		Message:    message,
		Memo:       req.Memo,
	}
	return p.String()
}

// TransactionRequestURL encodes link as a transaction-request URL.
func TransactionRequestURL(link *url.URL, label, message string) string {
	p := &PayURL{Link: link, Label: label, Message: message}
	return p.String()
}
