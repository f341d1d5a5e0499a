package wallet

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/money"
	"github.com/angelmondragon/campusmart-backend/pkg/pagination"
)

// TransactionView is a ledger entry as returned to clients.
type TransactionView struct {
	ID                  uuid.UUID               `json:"id"`
	Type                enums.TransactionType   `json:"type"`
	AmountCents         int64                   `json:"amount_cents"`
	AmountDisplay       string                  `json:"amount_display"`
	Source              enums.TransactionSource `json:"source"`
	Description         string                  `json:"description"`
	BalanceAfterCents   int64                   `json:"balance_after_cents"`
	BalanceAfterDisplay string                  `json:"balance_after_display"`
	OrderID             *uuid.UUID              `json:"order_id,omitempty"`
	CreatedAt           time.Time               `json:"created_at"`
}

// MutationView is the response to an accountant credit or debit.
type MutationView struct {
	Transaction    TransactionView `json:"transaction"`
	BalanceCents   int64           `json:"balance_cents"`
	BalanceDisplay string          `json:"balance_display"`
}

func NewTransactionView(row models.WalletTransaction) TransactionView {
	return TransactionView{
		ID:                  row.ID,
		Type:                row.Type,
		AmountCents:         row.AmountCents,
		AmountDisplay:       money.Format(row.AmountCents),
		Source:              row.Source,
		Description:         row.Description,
		BalanceAfterCents:   row.BalanceAfterCents,
		BalanceAfterDisplay: money.Format(row.BalanceAfterCents),
		OrderID:             row.OrderID,
		CreatedAt:           row.CreatedAt,
	}
}

func NewMutationView(result *MutationResult) MutationView {
	return MutationView{
		Transaction:    NewTransactionView(result.Transaction),
		BalanceCents:   result.BalanceCents,
		BalanceDisplay: money.Format(result.BalanceCents),
	}
}

// NewTransactionPage converts a page of ledger rows, keeping the cursor.
func NewTransactionPage(page pagination.Page[models.WalletTransaction]) pagination.Page[TransactionView] {
	items := make([]TransactionView, 0, len(page.Items))
	for _, row := range page.Items {
		items = append(items, NewTransactionView(row))
	}
	return pagination.Page[TransactionView]{Items: items, NextCursor: page.NextCursor}
}
