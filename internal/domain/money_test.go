package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoney(t *testing.T) {
	if got := FormatMoney(decimal.RequireFromString("49.9"), "ghs"); got != "GHS 49.90" {
		t.Fatalf("FormatMoney = %q", got)
	}
	if got := ToMinorUnits(decimal.RequireFromString("149.995"), "GHS"); got != 15000 {
		t.Fatalf("ToMinorUnits = %d", got)
	}
	if got := ToMinorUnits(decimal.RequireFromString("20"), "NGN"); got != 2000 {
		t.Fatalf("ToMinorUnits NGN = %d", got)
	}
	if got := FromMinorUnits(4999, "USD"); !got.Equal(decimal.RequireFromString("49.99")) {
		t.Fatalf("FromMinorUnits = %s", got)
	}
	if got := FormatMoney(decimal.NewFromInt(5), "XYZ"); got != "XYZ 5.00" {
		t.Fatalf("unknown code = %q", got)
	}
}
