package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/internal/locks"
	"github.com/angelmondragon/campusmart-backend/pkg/db"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/metrics"
	"github.com/angelmondragon/campusmart-backend/pkg/money"
	"github.com/angelmondragon/campusmart-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the wallet ledger. Credit and Debit are the only ways a balance changes.
type Service interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	GetWallet(ctx context.Context, userID uuid.UUID) (*Summary, error)
	Credit(ctx context.Context, input MutationInput) (*MutationResult, error)
	Debit(ctx context.Context, input MutationInput) (*MutationResult, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.WalletTransaction], error)
}

// MutationInput describes one balance change.
type MutationInput struct {
	UserID      uuid.UUID
	AmountCents int64
	Source      enums.TransactionSource
	Description string
	OrderID     *uuid.UUID
	ActorUserID *uuid.UUID
}

// MutationResult carries the appended transaction and the balance it produced.
type MutationResult struct {
	Transaction  models.WalletTransaction
	BalanceCents int64
}

// Summary is the read view of a wallet.
type Summary struct {
	UserID         uuid.UUID `json:"user_id"`
	BalanceCents   int64     `json:"balance_cents"`
	BalanceDisplay string    `json:"balance_display"`
	Version        int64     `json:"version"`
}

type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Locks   locks.Locker
	Logger  *logger.Logger
	Metrics *metrics.OrderMetrics
	Now     func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	locks   locks.Locker
	logg    *logger.Logger
	metrics *metrics.OrderMetrics
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock table required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		locks:   params.Locks,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

// GetBalance is a plain read and never waits on the wallet lock. A user without a wallet row has balance 0.
func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	summary, err := s.GetWallet(ctx, userID)
	if err != nil {
		return 0, err
	}
	return summary.BalanceCents, nil
}

func (s *service) GetWallet(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if err := s.requireUser(ctx, s.repo, userID); err != nil {
		return nil, err
	}
	summary := &Summary{UserID: userID, BalanceDisplay: money.Format(0)}
	wallet, err := s.repo.FindWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return summary, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	summary.BalanceCents = wallet.BalanceCents
	summary.BalanceDisplay = money.Format(wallet.BalanceCents)
	summary.Version = wallet.Version
	return summary, nil
}

func (s *service) Credit(ctx context.Context, input MutationInput) (*MutationResult, error) {
	return s.mutate(ctx, enums.TransactionTypeCredit, input)
}

func (s *service) Debit(ctx context.Context, input MutationInput) (*MutationResult, error) {
	return s.mutate(ctx, enums.TransactionTypeDebit, input)
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.WalletTransaction], error) {
	var empty pagination.Page[models.WalletTransaction]
	if userID == uuid.Nil {
		return empty, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if err := s.requireUser(ctx, s.repo, userID); err != nil {
		return empty, err
	}

	rows, err := s.repo.ListTransactions(ctx, userID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet transactions")
	}
	return pagination.BuildPage(rows, params.Limit, func(row models.WalletTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	}), nil
}

func (s *service) mutate(ctx context.Context, txType enums.TransactionType, input MutationInput) (*MutationResult, error) {
	if err := validateMutation(txType, input); err != nil {
		return nil, err
	}

	started := time.Now()
	unlock, err := s.locks.Lock(ctx, locks.WalletKey(input.UserID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "wallet is busy, try again")
	}
	defer unlock()
	s.metrics.ObserveLockWait("wallet", time.Since(started))

	// Once the lock is held the write runs to completion even if the caller goes away.
	writeCtx := context.WithoutCancel(ctx)

	var result MutationResult
	err = s.tx.WithTx(writeCtx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := s.requireUser(writeCtx, repo, input.UserID); err != nil {
			return err
		}

		now := s.now()
		if err := repo.EnsureWallet(writeCtx, input.UserID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure wallet")
		}

		switch txType {
		case enums.TransactionTypeCredit:
			if err := repo.Increment(writeCtx, input.UserID, input.AmountCents, now); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit wallet")
			}
		case enums.TransactionTypeDebit:
			ok, err := repo.DecrementIfSufficient(writeCtx, input.UserID, input.AmountCents, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit wallet")
			}
			if !ok {
				balance := int64(0)
				if wallet, err := repo.FindWallet(writeCtx, input.UserID); err == nil {
					balance = wallet.BalanceCents
				}
				return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient wallet balance").
					WithDetails(map[string]any{
						"balance_cents":  balance,
						"required_cents": input.AmountCents,
					})
			}
		}

		wallet, err := repo.FindWallet(writeCtx, input.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload wallet")
		}

		record := models.WalletTransaction{
			ID:                uuid.New(),
			UserID:            input.UserID,
			Type:              txType,
			AmountCents:       input.AmountCents,
			Source:            input.Source,
			Description:       input.Description,
			BalanceAfterCents: wallet.BalanceCents,
			OrderID:           input.OrderID,
			ActorUserID:       input.ActorUserID,
			CreatedAt:         now,
		}
		if err := repo.AppendTransaction(writeCtx, &record); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, fmt.Sprintf("%s already recorded for order", input.Source))
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append wallet transaction")
		}

		result = MutationResult{Transaction: record, BalanceCents: wallet.BalanceCents}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncLedgerMutation(string(txType), string(input.Source))
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id":             input.UserID.String(),
			"transaction_id":      result.Transaction.ID.String(),
			"amount_cents":        input.AmountCents,
			"source":              string(input.Source),
			"balance_after_cents": result.BalanceCents,
		})
		s.logg.Info(logCtx, "wallet."+string(txType))
	}
	return &result, nil
}

func (s *service) requireUser(ctx context.Context, repo Repository, userID uuid.UUID) error {
	exists, err := repo.UserExists(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup user")
	}
	if !exists {
		return pkgerrors.New(pkgerrors.CodeUserNotFound, "user not found")
	}
	return nil
}

func validateMutation(txType enums.TransactionType, input MutationInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive").
			WithDetails(map[string]any{"amount_cents": input.AmountCents})
	}
	if !input.Source.AllowedFor(txType) {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("source %q is not allowed for %s", input.Source, txType))
	}
	return nil
}
