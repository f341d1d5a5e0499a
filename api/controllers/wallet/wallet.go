package wallet

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/api/middleware"
	"github.com/angelmondragon/campusmart-backend/api/responses"
	"github.com/angelmondragon/campusmart-backend/api/validators"
	internalwallet "github.com/angelmondragon/campusmart-backend/internal/wallet"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/money"
	"github.com/angelmondragon/campusmart-backend/pkg/pagination"
)

const maxDescriptionLength = 200

// Exactly one of AmountCents or Amount ("12.50") must be set.
type adjustmentRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"omitempty,gt=0"`
	Amount      string `json:"amount"`
	Source      string `json:"source"`
	Description string `json:"description" validate:"max=500"`
}

func (req adjustmentRequest) cents() (int64, error) {
	hasCents := req.AmountCents != 0
	hasMajor := strings.TrimSpace(req.Amount) != ""
	switch {
	case hasCents && hasMajor:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "provide amount or amount_cents, not both")
	case hasCents:
		return req.AmountCents, nil
	case hasMajor:
		cents, err := money.ParseMajor(req.Amount)
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount").WithDetails(map[string]any{"amount": req.Amount})
		}
		return cents, nil
	default:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount is required")
	}
}

// accountantCreditSources excludes order sources, which only the coordinator records.
var accountantCreditSources = map[enums.TransactionSource]struct{}{
	enums.TransactionSourceCashDeposit:     {},
	enums.TransactionSourceOnlinePayment:   {},
	enums.TransactionSourceAdminAdjustment: {},
}

// Balance returns the caller's own wallet.
func Balance(svc internalwallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.GetWallet(r.Context(), principal.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// Transactions pages through the caller's ledger, newest first.
func Transactions(svc internalwallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeTransactions(w, r, svc, principal.UserID, logg)
	}
}

// AdminWallet returns any user's wallet. Mount behind CapViewAnyWallet.
func AdminWallet(svc internalwallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := validators.ParseUUIDParam(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.GetWallet(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

func AdminTransactions(svc internalwallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := validators.ParseUUIDParam(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeTransactions(w, r, svc, userID, logg)
	}
}

// AdminCredit records a deposit or adjustment. Source defaults to cash_deposit.
func AdminCredit(svc internalwallet.Service, timeout time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, err := adjustmentInput(w, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if input.Source == "" {
			input.Source = enums.TransactionSourceCashDeposit
		}
		if _, ok := accountantCreditSources[input.Source]; !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "source not accepted for credits").WithDetails(map[string]any{"source": input.Source}))
			return
		}

		ctx, cancel := withTimeout(r, timeout)
		defer cancel()

		result, err := svc.Credit(ctx, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internalwallet.NewMutationView(result))
	}
}

// AdminDebit records a manual correction. The source is always admin_adjustment.
func AdminDebit(svc internalwallet.Service, timeout time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, err := adjustmentInput(w, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if input.Source != "" && input.Source != enums.TransactionSourceAdminAdjustment {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "debits only accept source admin_adjustment"))
			return
		}
		input.Source = enums.TransactionSourceAdminAdjustment

		ctx, cancel := withTimeout(r, timeout)
		defer cancel()

		result, err := svc.Debit(ctx, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internalwallet.NewMutationView(result))
	}
}

func adjustmentInput(w http.ResponseWriter, r *http.Request) (internalwallet.MutationInput, error) {
	principal, err := middleware.RequirePrincipal(r.Context())
	if err != nil {
		return internalwallet.MutationInput{}, err
	}
	userID, err := validators.ParseUUIDParam(r, "userId")
	if err != nil {
		return internalwallet.MutationInput{}, err
	}
	var req adjustmentRequest
	if err := validators.DecodeJSONBody(w, r, &req); err != nil {
		return internalwallet.MutationInput{}, err
	}
	cents, err := req.cents()
	if err != nil {
		return internalwallet.MutationInput{}, err
	}
	actor := principal.UserID
	input := internalwallet.MutationInput{
		UserID:      userID,
		AmountCents: cents,
		Description: validators.SanitizeString(req.Description, maxDescriptionLength),
		ActorUserID: &actor,
	}
	if raw := strings.TrimSpace(req.Source); raw != "" {
		source, err := enums.ParseTransactionSource(raw)
		if err != nil {
			return internalwallet.MutationInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid source")
		}
		input.Source = source
	}
	return input, nil
}

func writeTransactions(w http.ResponseWriter, r *http.Request, svc internalwallet.Service, userID uuid.UUID, logg *logger.Logger) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	page, err := svc.ListTransactions(r.Context(), userID, pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	})
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, internalwallet.NewTransactionPage(page))
}

func withTimeout(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), timeout)
}
