package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPercent(t *testing.T) {
	cases := []struct {
		amount, pct, want string
	}{
		{"6000", "10", "600"},
		{"333.33", "15", "50"},
		{"100.05", "12.5", "12.51"},
		{"0", "50", "0"},
	}
	for _, tc := range cases {
		got := Percent(decimal.RequireFromString(tc.amount), decimal.RequireFromString(tc.pct))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("%s%% of %s: expected %s got %s", tc.pct, tc.amount, tc.want, got)
		}
	}
}

func TestValidPercent(t *testing.T) {
	if !ValidPercent(decimal.NewFromInt(100)) || !ValidPercent(decimal.Zero) {
		t.Fatal("bounds should be valid")
	}
	if ValidPercent(decimal.NewFromInt(-1)) || ValidPercent(decimal.NewFromFloat(100.01)) {
		t.Fatal("out of range values should be invalid")
	}
}
