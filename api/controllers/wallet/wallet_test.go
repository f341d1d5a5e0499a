package wallet

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/campusmart-backend/api/middleware"
	"github.com/angelmondragon/campusmart-backend/internal/access"
	internalwallet "github.com/angelmondragon/campusmart-backend/internal/wallet"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/pagination"
	"github.com/angelmondragon/campusmart-backend/pkg/types"
)

type stubWallet struct {
	credits []internalwallet.MutationInput
	debits  []internalwallet.MutationInput
	balance int64
	debitFn func(input internalwallet.MutationInput) (*internalwallet.MutationResult, error)
	listFn  func(userID uuid.UUID, params pagination.Params) (pagination.Page[models.WalletTransaction], error)
}

func (s *stubWallet) GetBalance(context.Context, uuid.UUID) (int64, error) {
	return s.balance, nil
}

func (s *stubWallet) GetWallet(_ context.Context, userID uuid.UUID) (*internalwallet.Summary, error) {
	return &internalwallet.Summary{UserID: userID, BalanceCents: s.balance, BalanceDisplay: "12.50", Version: 3}, nil
}

func (s *stubWallet) Credit(_ context.Context, input internalwallet.MutationInput) (*internalwallet.MutationResult, error) {
	s.credits = append(s.credits, input)
	s.balance += input.AmountCents
	return s.result(input, enums.TransactionTypeCredit), nil
}

func (s *stubWallet) Debit(_ context.Context, input internalwallet.MutationInput) (*internalwallet.MutationResult, error) {
	s.debits = append(s.debits, input)
	if s.debitFn != nil {
		return s.debitFn(input)
	}
	s.balance -= input.AmountCents
	return s.result(input, enums.TransactionTypeDebit), nil
}

func (s *stubWallet) ListTransactions(_ context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.WalletTransaction], error) {
	if s.listFn != nil {
		return s.listFn(userID, params)
	}
	return pagination.Page[models.WalletTransaction]{}, nil
}

func (s *stubWallet) result(input internalwallet.MutationInput, txType enums.TransactionType) *internalwallet.MutationResult {
	return &internalwallet.MutationResult{
		Transaction: models.WalletTransaction{
			ID:                uuid.New(),
			UserID:            input.UserID,
			Type:              txType,
			AmountCents:       input.AmountCents,
			Source:            input.Source,
			Description:       input.Description,
			BalanceAfterCents: s.balance,
			ActorUserID:       input.ActorUserID,
			CreatedAt:         time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		},
		BalanceCents: s.balance,
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func adminRequest(method, target, body string, accountant, userID uuid.UUID) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("userId", userID.String())
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	ctx = middleware.WithPrincipal(ctx, access.Principal{UserID: accountant, Role: enums.RoleAccountant})
	return req.WithContext(ctx)
}

func TestBalanceReturnsOwnWallet(t *testing.T) {
	userID := uuid.New()
	svc := &stubWallet{balance: 1250}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req = req.WithContext(middleware.WithPrincipal(req.Context(), access.Principal{UserID: userID, Role: enums.RoleStudent}))
	w := httptest.NewRecorder()
	Balance(svc, testLogger())(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data internalwallet.Summary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	require.Equal(t, userID, env.Data.UserID)
	require.Equal(t, int64(1250), env.Data.BalanceCents)
}

func TestTransactionsPassesCursor(t *testing.T) {
	userID := uuid.New()
	svc := &stubWallet{listFn: func(id uuid.UUID, params pagination.Params) (pagination.Page[models.WalletTransaction], error) {
		require.Equal(t, userID, id)
		require.Equal(t, pagination.DefaultLimit, params.Limit)
		require.Equal(t, "c1", params.Cursor)
		return pagination.Page[models.WalletTransaction]{
			Items:      []models.WalletTransaction{{ID: uuid.New(), Type: enums.TransactionTypeCredit, AmountCents: 500, BalanceAfterCents: 500}},
			NextCursor: "c2",
		}, nil
	}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet/transactions?cursor=c1", nil)
	req = req.WithContext(middleware.WithPrincipal(req.Context(), access.Principal{UserID: userID, Role: enums.RoleStudent}))
	w := httptest.NewRecorder()
	Transactions(svc, testLogger())(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data pagination.Page[internalwallet.TransactionView] `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	require.Len(t, env.Data.Items, 1)
	require.Equal(t, "5.00", env.Data.Items[0].AmountDisplay)
	require.Equal(t, "c2", env.Data.NextCursor)
}

func TestAdminCreditDefaultsToCashDeposit(t *testing.T) {
	accountant, userID := uuid.New(), uuid.New()
	svc := &stubWallet{}
	req := adminRequest(http.MethodPost, "/api/v1/admin/wallets/x/credit", `{"amount":"12.50","description":"  front desk  "}`, accountant, userID)
	w := httptest.NewRecorder()
	AdminCredit(svc, time.Second, testLogger())(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, svc.credits, 1)
	got := svc.credits[0]
	require.Equal(t, userID, got.UserID)
	require.Equal(t, int64(1250), got.AmountCents)
	require.Equal(t, enums.TransactionSourceCashDeposit, got.Source)
	require.Equal(t, "front desk", got.Description)
	require.NotNil(t, got.ActorUserID)
	require.Equal(t, accountant, *got.ActorUserID)

	var env struct {
		Data internalwallet.MutationView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	require.Equal(t, int64(1250), env.Data.BalanceCents)
}

func TestAdminCreditRejectsOrderSources(t *testing.T) {
	svc := &stubWallet{}
	req := adminRequest(http.MethodPost, "/api/v1/admin/wallets/x/credit", `{"amount_cents":500,"source":"order_refund"}`, uuid.New(), uuid.New())
	w := httptest.NewRecorder()
	AdminCredit(svc, time.Second, testLogger())(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, svc.credits)
}

func TestAdminCreditRequiresExactlyOneAmount(t *testing.T) {
	for name, body := range map[string]string{
		"missing": `{"source":"cash_deposit"}`,
		"both":    `{"amount":"1.00","amount_cents":100}`,
		"bad":     `{"amount":"1.005"}`,
	} {
		t.Run(name, func(t *testing.T) {
			svc := &stubWallet{}
			req := adminRequest(http.MethodPost, "/api/v1/admin/wallets/x/credit", body, uuid.New(), uuid.New())
			w := httptest.NewRecorder()
			AdminCredit(svc, time.Second, testLogger())(w, req)

			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Empty(t, svc.credits)
		})
	}
}

func TestAdminDebitForcesAdjustmentSource(t *testing.T) {
	svc := &stubWallet{balance: 2000}
	req := adminRequest(http.MethodPost, "/api/v1/admin/wallets/x/debit", `{"amount_cents":500,"description":"duplicate deposit"}`, uuid.New(), uuid.New())
	w := httptest.NewRecorder()
	AdminDebit(svc, time.Second, testLogger())(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, svc.debits, 1)
	require.Equal(t, enums.TransactionSourceAdminAdjustment, svc.debits[0].Source)
}

func TestAdminDebitRejectsOtherSources(t *testing.T) {
	svc := &stubWallet{}
	req := adminRequest(http.MethodPost, "/api/v1/admin/wallets/x/debit", `{"amount_cents":500,"source":"order_debit"}`, uuid.New(), uuid.New())
	w := httptest.NewRecorder()
	AdminDebit(svc, time.Second, testLogger())(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, svc.debits)
}

func TestAdminDebitInsufficientBalance(t *testing.T) {
	svc := &stubWallet{debitFn: func(internalwallet.MutationInput) (*internalwallet.MutationResult, error) {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance")
	}}
	req := adminRequest(http.MethodPost, "/api/v1/admin/wallets/x/debit", `{"amount_cents":500}`, uuid.New(), uuid.New())
	w := httptest.NewRecorder()
	AdminDebit(svc, time.Second, testLogger())(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var env types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	require.Equal(t, string(pkgerrors.CodeInsufficientBalance), env.Error.Code)
}

func TestAdminWalletRejectsBadUserID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/wallets/nope", nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("userId", "nope")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	w := httptest.NewRecorder()
	AdminWallet(&stubWallet{}, testLogger())(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
