package orders

import (
	"github.com/angelmondragon/campusmart-backend/internal/access"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
)

type edge struct {
	from enums.OrderStatus
	to   enums.OrderStatus
}

type rule struct {
	capabilities []access.Capability
	refund       bool
}

var transitions = map[edge]rule{
	{enums.OrderStatusPending, enums.OrderStatusPreparing}: {
		capabilities: []access.Capability{access.CapAdvanceShopOrder},
	},
	{enums.OrderStatusPending, enums.OrderStatusCancelled}: {
		capabilities: []access.Capability{access.CapCancelShopOrder, access.CapCancelOwnPending, access.CapExpireOrder},
		refund:       true,
	},
	{enums.OrderStatusPreparing, enums.OrderStatusReady}: {
		capabilities: []access.Capability{access.CapAdvanceShopOrder},
	},
	{enums.OrderStatusPreparing, enums.OrderStatusCancelled}: {
		capabilities: []access.Capability{access.CapCancelShopOrder},
		refund:       true,
	},
	{enums.OrderStatusReady, enums.OrderStatusCompleted}: {
		capabilities: []access.Capability{access.CapAdvanceShopOrder},
	},
	{enums.OrderStatusReady, enums.OrderStatusCancelled}: {
		capabilities: []access.Capability{access.CapCancelShopOrder},
		refund:       true,
	},
}

// Transition is an authorized status change.
type Transition struct {
	From       enums.OrderStatus
	To         enums.OrderStatus
	Capability access.Capability
	Refund     bool
}

// NextStatuses lists the statuses reachable from status in one step.
func NextStatuses(status enums.OrderStatus) []enums.OrderStatus {
	var out []enums.OrderStatus
	for _, candidate := range []enums.OrderStatus{
		enums.OrderStatusPreparing,
		enums.OrderStatusReady,
		enums.OrderStatusCompleted,
		enums.OrderStatusCancelled,
	} {
		if _, ok := transitions[edge{status, candidate}]; ok {
			out = append(out, candidate)
		}
	}
	return out
}

// Authorize decides whether principal may move order to target. Checks run in a fixed order:
// unknown role, invalid target, terminal source, missing edge, then capability and scope.
func Authorize(order *models.Order, principal access.Principal, target enums.OrderStatus) (*Transition, error) {
	if !principal.IsKnown() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "role is not permitted")
	}
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status").
			WithDetails(map[string]any{"status": string(target)})
	}

	details := map[string]any{"from": string(order.Status), "to": string(target)}
	if order.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "order is already "+string(order.Status)).WithDetails(details)
	}
	r, ok := transitions[edge{order.Status, target}]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "transition not allowed").WithDetails(details)
	}

	for _, capability := range r.capabilities {
		if principal.Can(capability) && inScope(capability, order, principal) {
			return &Transition{From: order.Status, To: target, Capability: capability, Refund: r.refund}, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to change this order")
}

func inScope(capability access.Capability, order *models.Order, principal access.Principal) bool {
	switch capability {
	case access.CapAdvanceShopOrder, access.CapCancelShopOrder:
		return principal.InShop(order.ShopID)
	case access.CapCancelOwnPending:
		return principal.UserID == order.UserID
	case access.CapExpireOrder:
		return true
	default:
		return false
	}
}
