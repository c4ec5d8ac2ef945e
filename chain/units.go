package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Token precisions used by the vault stack. Vault shares track the USDC
// asset's precision.
const (
	USDCDecimals  int32 = 6
	ETHDecimals   int32 = 18
	ShareDecimals       = USDCDecimals
)

// FormatUnits scales a base-unit integer down by decimals.
func FormatUnits(value *big.Int, decimals int32) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -decimals)
}

// ToFloat renders a base-unit integer as a float for JSON responses.
func ToFloat(value *big.Int, decimals int32) float64 {
	return FormatUnits(value, decimals).InexactFloat64()
}

// ParseUnits converts a human decimal amount into base units.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", amount)
	}
	scaled := parsed.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %q exceeds %d decimals", amount, decimals)
	}
	out := scaled.BigInt()
	if err := CheckUint256(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseBaseUnits parses an integer amount already expressed in base units.
func ParseBaseUnits(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	out, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	if out.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	if err := CheckUint256(out); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckUint256 rejects nil, negative or oversized values.
func CheckUint256(value *big.Int) error {
	if value == nil {
		return fmt.Errorf("amount required")
	}
	if value.Sign() < 0 {
		return fmt.Errorf("amount must not be negative")
	}
	if _, overflow := uint256.FromBig(value); overflow {
		return ErrOverflow
	}
	return nil
}
