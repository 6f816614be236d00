// Package units converts on-chain fixed-point integer amounts to and from
// human readable decimal and fiat strings.
package units

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

var (
	// ErrTooManyDecimals is returned when an input carries more fractional
	// digits than the token supports
	ErrTooManyDecimals = errors.New("units: too many decimal places")

	// ErrNegativeAmount is returned for amounts below zero
	ErrNegativeAmount = errors.New("units: negative amount")

	// ErrInvalidAmount is returned for anything but plain decimal digits
	ErrInvalidAmount = errors.New("units: invalid amount")

	// ErrAmountTooLarge is returned when the whole part exceeds
	// MaxIntegerDigits
	ErrAmountTooLarge = errors.New("units: amount too large")
)

// FormatUnits renders amount as an exact decimal string with decimals
// fractional places, trailing zeros trimmed.
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// MaxIntegerDigits bounds the whole part of a parsed amount to the width
// of a uint256
const MaxIntegerDigits = 78

var plainDecimal = regexp.MustCompile(`^([0-9]*)(?:\.([0-9]*))?$`)

// ParseUnits converts a plain decimal string ("12", "0.5", "1.25") into its
// fixed-point integer value. Exponent forms are rejected.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("units: empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, ErrNegativeAmount
	}

	m := plainDecimal.FindStringSubmatch(s)
	if m == nil || m[1]+m[2] == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	whole := strings.TrimLeft(m[1], "0")
	frac := strings.TrimRight(m[2], "0")
	if len(whole) > MaxIntegerDigits {
		return nil, fmt.Errorf("%w: %q", ErrAmountTooLarge, s)
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("%w: %q has more than %d", ErrTooManyDecimals, s, decimals)
	}

	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	v, ok := new(big.Int).SetString("0"+digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return v, nil
}

// FormatAmount renders amount with at most significant fractional digits,
// truncating toward zero the way balances are displayed in forms.
func FormatAmount(amount *big.Int, decimals, significant int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).Truncate(int32(significant)).String()
}

// ToFloat converts a fixed-point amount to a float, accepting precision loss
func ToFloat(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).InexactFloat64()
}

// AssetToFiat values amount at price USD per whole token
func AssetToFiat(amount *big.Int, decimals int, price float64) float64 {
	return ToFloat(amount, decimals) * price
}

// FormatFiat renders a USD value as "$1,234.56"
func FormatFiat(value float64) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "$---"
	}
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	return sign + "$" + humanize.FormatFloat("#,###.##", value)
}

// FormatPercent renders a percentage with two decimals, e.g. "12.34%"
func FormatPercent(value float64) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "---%"
	}
	return decimal.NewFromFloat(value).StringFixed(2) + "%"
}
