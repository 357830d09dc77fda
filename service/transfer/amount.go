package transfer

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the precision of SOL (1 SOL = 10^9 lamports).
const NativeDecimals uint8 = 9

// NormalizeAmount converts a decimal quantity into integer base units for an
// asset with the given precision. It never rounds: an amount with more
// fractional digits than precision allows is rejected, because silently
// truncating it would underpay the recipient.
func NormalizeAmount(amount decimal.Decimal, precision uint8) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, newError(KindInvalidAmount, "normalize", fmt.Errorf("amount must be positive, got %s", amount))
	}

	// Trailing zeros do not count as precision: 1.50 has one decimal place.
	if !amount.Truncate(int32(precision)).Equal(amount) {
		return nil, newError(KindInvalidAmount, "normalize",
			fmt.Errorf("amount %s has more than %d decimal places", amount, precision))
	}

	return amount.Shift(int32(precision)).Floor().BigInt(), nil
}

// ToBaseUnits narrows a normalized amount to the u64 carried by transfer
// instructions.
func ToBaseUnits(units *big.Int) (uint64, error) {
	if units == nil || units.Sign() <= 0 || !units.IsUint64() {
		return 0, newError(KindInvalidAmount, "normalize", fmt.Errorf("amount %v does not fit in u64 base units", units))
	}
	return units.Uint64(), nil
}

// FormatAmount renders base units back as a decimal string for display.
func FormatAmount(units uint64, precision uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(precision)).String()
}
