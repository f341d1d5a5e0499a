package enums

import "fmt"

// TransactionType is the direction of a wallet balance change.
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
)

func (t TransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransactionType.
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeCredit || t == TransactionTypeDebit
}

// TransactionSource records why a wallet balance changed.
type TransactionSource string

const (
	TransactionSourceCashDeposit     TransactionSource = "cash_deposit"
	TransactionSourceOnlinePayment   TransactionSource = "online_payment"
	TransactionSourceOrderDebit      TransactionSource = "order_debit"
	TransactionSourceOrderRefund     TransactionSource = "order_refund"
	TransactionSourceAdminAdjustment TransactionSource = "admin_adjustment"
)

var validTransactionSources = []TransactionSource{
	TransactionSourceCashDeposit,
	TransactionSourceOnlinePayment,
	TransactionSourceOrderDebit,
	TransactionSourceOrderRefund,
	TransactionSourceAdminAdjustment,
}

var creditSources = map[TransactionSource]struct{}{
	TransactionSourceCashDeposit:     {},
	TransactionSourceOnlinePayment:   {},
	TransactionSourceOrderRefund:     {},
	TransactionSourceAdminAdjustment: {},
}

var debitSources = map[TransactionSource]struct{}{
	TransactionSourceOrderDebit:      {},
	TransactionSourceAdminAdjustment: {},
}

func (s TransactionSource) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransactionSource.
func (s TransactionSource) IsValid() bool {
	for _, candidate := range validTransactionSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// AllowedFor reports whether the source may be recorded with the given transaction type.
func (s TransactionSource) AllowedFor(t TransactionType) bool {
	switch t {
	case TransactionTypeCredit:
		_, ok := creditSources[s]
		return ok
	case TransactionTypeDebit:
		_, ok := debitSources[s]
		return ok
	default:
		return false
	}
}

// ParseTransactionSource converts raw input into a TransactionSource.
func ParseTransactionSource(value string) (TransactionSource, error) {
	for _, candidate := range validTransactionSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction source %q", value)
}
