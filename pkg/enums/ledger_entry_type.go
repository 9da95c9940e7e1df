package enums

import "fmt"

// LedgerEntryType classifies a vendor balance mutation.
type LedgerEntryType string

const (
	LedgerEntryCommissionCredit   LedgerEntryType = "commission_credit"
	LedgerEntryCommissionReversal LedgerEntryType = "commission_reversal"
	LedgerEntryVendorPayout       LedgerEntryType = "vendor_payout"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryCommissionCredit,
	LedgerEntryCommissionReversal,
	LedgerEntryVendorPayout,
}

// String implements fmt.Stringer.
func (l LedgerEntryType) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LedgerEntryType.
func (l LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into a LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
