package proposal

import "strings"

// ValidateAmount checks that value is a positive decimal number written with
// digits and at most one decimal point. Amount arithmetic stays in string and
// integer form throughout settlement; this only guards the shape.
func ValidateAmount(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return ErrInvalidAmount
	}

	whole, frac, hasFrac := strings.Cut(value, ".")
	if whole == "" && frac == "" {
		return ErrInvalidAmount
	}
	if hasFrac && frac == "" {
		return ErrInvalidAmount
	}
	nonZero := false
	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return ErrInvalidAmount
			}
			if r != '0' {
				nonZero = true
			}
		}
	}
	if !nonZero {
		return ErrInvalidAmount
	}
	return nil
}
