package orders

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/campusmart-backend/internal/access"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
)

type principals struct {
	owner      access.Principal
	student    access.Principal
	staff      access.Principal
	otherStaff access.Principal
	accountant access.Principal
	admin      access.Principal
	system     access.Principal
}

func newPrincipals(order *models.Order) principals {
	otherShop := uuid.New()
	shopID := order.ShopID
	return principals{
		owner:      access.Principal{UserID: order.UserID, Role: enums.RoleStudent},
		student:    access.Principal{UserID: uuid.New(), Role: enums.RoleStudent},
		staff:      access.Principal{UserID: uuid.New(), Role: enums.RoleStaff, ShopID: &shopID},
		otherStaff: access.Principal{UserID: uuid.New(), Role: enums.RoleStaff, ShopID: &otherShop},
		accountant: access.Principal{UserID: uuid.New(), Role: enums.RoleAccountant},
		admin:      access.Principal{UserID: uuid.New(), Role: enums.RoleAdmin},
		system:     access.System(),
	}
}

func orderIn(status enums.OrderStatus) *models.Order {
	return &models.Order{ID: uuid.New(), UserID: uuid.New(), ShopID: uuid.New(), Status: status}
}

func TestAuthorizeTransitionTable(t *testing.T) {
	cases := []struct {
		name   string
		from   enums.OrderStatus
		to     enums.OrderStatus
		who    func(p principals) access.Principal
		refund bool
		code   pkgerrors.Code
	}{
		{"staff starts preparing", enums.OrderStatusPending, enums.OrderStatusPreparing, func(p principals) access.Principal { return p.staff }, false, ""},
		{"staff marks ready", enums.OrderStatusPreparing, enums.OrderStatusReady, func(p principals) access.Principal { return p.staff }, false, ""},
		{"staff completes", enums.OrderStatusReady, enums.OrderStatusCompleted, func(p principals) access.Principal { return p.staff }, false, ""},
		{"staff cancels pending", enums.OrderStatusPending, enums.OrderStatusCancelled, func(p principals) access.Principal { return p.staff }, true, ""},
		{"staff cancels preparing", enums.OrderStatusPreparing, enums.OrderStatusCancelled, func(p principals) access.Principal { return p.staff }, true, ""},
		{"staff cancels ready", enums.OrderStatusReady, enums.OrderStatusCancelled, func(p principals) access.Principal { return p.staff }, true, ""},
		{"owner cancels pending", enums.OrderStatusPending, enums.OrderStatusCancelled, func(p principals) access.Principal { return p.owner }, true, ""},
		{"system expires pending", enums.OrderStatusPending, enums.OrderStatusCancelled, func(p principals) access.Principal { return p.system }, true, ""},
		{"owner cannot cancel preparing", enums.OrderStatusPreparing, enums.OrderStatusCancelled, func(p principals) access.Principal { return p.owner }, false, pkgerrors.CodeForbidden},
		{"other student cannot cancel", enums.OrderStatusPending, enums.OrderStatusCancelled, func(p principals) access.Principal { return p.student }, false, pkgerrors.CodeForbidden},
		{"owner cannot advance", enums.OrderStatusPending, enums.OrderStatusPreparing, func(p principals) access.Principal { return p.owner }, false, pkgerrors.CodeForbidden},
		{"other shop staff cannot advance", enums.OrderStatusPending, enums.OrderStatusPreparing, func(p principals) access.Principal { return p.otherStaff }, false, pkgerrors.CodeForbidden},
		{"admin cannot advance", enums.OrderStatusPending, enums.OrderStatusPreparing, func(p principals) access.Principal { return p.admin }, false, pkgerrors.CodeForbidden},
		{"accountant cannot cancel", enums.OrderStatusReady, enums.OrderStatusCancelled, func(p principals) access.Principal { return p.accountant }, false, pkgerrors.CodeForbidden},
		{"system cannot expire preparing", enums.OrderStatusPreparing, enums.OrderStatusCancelled, func(p principals) access.Principal { return p.system }, false, pkgerrors.CodeForbidden},
		{"skip to ready", enums.OrderStatusPending, enums.OrderStatusReady, func(p principals) access.Principal { return p.staff }, false, pkgerrors.CodeInvalidTransition},
		{"back to pending", enums.OrderStatusPreparing, enums.OrderStatusPending, func(p principals) access.Principal { return p.staff }, false, pkgerrors.CodeInvalidTransition},
		{"same status", enums.OrderStatusReady, enums.OrderStatusReady, func(p principals) access.Principal { return p.staff }, false, pkgerrors.CodeInvalidTransition},
		{"bogus target", enums.OrderStatusPending, enums.OrderStatus("eaten"), func(p principals) access.Principal { return p.staff }, false, pkgerrors.CodeValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := orderIn(tc.from)
			transition, err := Authorize(order, tc.who(newPrincipals(order)), tc.to)
			if tc.code != "" {
				require.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
				require.Nil(t, transition)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.from, transition.From)
			require.Equal(t, tc.to, transition.To)
			require.Equal(t, tc.refund, transition.Refund)
		})
	}
}

func TestAuthorizeTerminalStatesRejectEveryone(t *testing.T) {
	for _, terminal := range enums.TerminalOrderStatuses {
		order := orderIn(terminal)
		p := newPrincipals(order)
		for _, who := range []access.Principal{p.owner, p.student, p.staff, p.otherStaff, p.accountant, p.admin, p.system} {
			for _, target := range []enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusPreparing, enums.OrderStatusReady, enums.OrderStatusCompleted, enums.OrderStatusCancelled} {
				_, err := Authorize(order, who, target)
				require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition), "%s by %s to %s: %v", terminal, who.Role, target, err)
			}
		}
	}
}

func TestAuthorizeUnknownRoleIsForbiddenFirst(t *testing.T) {
	order := orderIn(enums.OrderStatusCompleted)
	_, err := Authorize(order, access.Principal{UserID: order.UserID, Role: enums.Role("root")}, enums.OrderStatus("nope"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestNextStatuses(t *testing.T) {
	require.ElementsMatch(t, []enums.OrderStatus{enums.OrderStatusPreparing, enums.OrderStatusCancelled}, NextStatuses(enums.OrderStatusPending))
	require.ElementsMatch(t, []enums.OrderStatus{enums.OrderStatusCompleted, enums.OrderStatusCancelled}, NextStatuses(enums.OrderStatusReady))
	require.Empty(t, NextStatuses(enums.OrderStatusCompleted))
	require.Empty(t, NextStatuses(enums.OrderStatusCancelled))
}
