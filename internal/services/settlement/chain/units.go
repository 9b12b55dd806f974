package chain

import (
	"math/big"
	"strings"

	apperrors "github.com/missionforge/missionforge/internal/platform/errors"
)

// ToBaseUnits converts a human-readable decimal amount to the contract's
// smallest unit. The conversion is pure string and integer arithmetic; no
// floating point is involved at any step.
func ToBaseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" || decimals < 0 {
		return nil, apperrors.New(apperrors.CodeChainInvalidAmount, "amount is required")
	}

	whole, frac, hasFrac := strings.Cut(amount, ".")
	if whole == "" && frac == "" {
		return nil, invalidAmount(amount)
	}
	if hasFrac && frac == "" {
		return nil, invalidAmount(amount)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return nil, invalidAmount(amount)
	}
	if len(frac) > decimals {
		return nil, apperrors.WithMetadata(apperrors.CodeChainInvalidAmount,
			"amount has more fractional digits than the token supports",
			map[string]string{"amount": amount})
	}

	base := whole + frac + strings.Repeat("0", decimals-len(frac))
	base = strings.TrimLeft(base, "0")
	if base == "" {
		base = "0"
	}

	value, ok := new(big.Int).SetString(base, 10)
	if !ok {
		return nil, invalidAmount(amount)
	}
	return value, nil
}

// FromBaseUnits converts a smallest-unit value back to its human-readable
// decimal form. For any integral input of ToBaseUnits the round trip is
// exact.
func FromBaseUnits(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	digits := value.String()
	if decimals <= 0 {
		return digits
	}
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-decimals]
	frac := strings.TrimRight(digits[len(digits)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func invalidAmount(amount string) error {
	return apperrors.WithMetadata(apperrors.CodeChainInvalidAmount,
		"amount must be a decimal number",
		map[string]string{"amount": amount})
}
