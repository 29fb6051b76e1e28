package domain

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// currencyScale returns the number of minor-unit digits for an ISO 4217
// code, defaulting to 2 for unknown codes.
func currencyScale(code string) int32 {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// FormatMoney renders an amount as "GHS 49.99".
func FormatMoney(amount decimal.Decimal, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return code + " " + amount.StringFixed(currencyScale(code))
}

// ToMinorUnits converts an amount to the smallest currency unit (pesewas,
// kobo, cents), rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal, code string) int64 {
	return amount.Shift(currencyScale(code)).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64, code string) decimal.Decimal {
	return decimal.New(minor, -currencyScale(code))
}
