// Package access maps marketplace roles onto a closed set of capabilities.
// Anything not granted explicitly is denied.
package access

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/enums"
)

// Capability names one thing a principal may do.
type Capability string

const (
	CapPlaceOrder       Capability = "place_order"
	CapCancelOwnPending Capability = "cancel_own_pending"
	CapAdvanceShopOrder Capability = "advance_shop_order"
	CapCancelShopOrder  Capability = "cancel_shop_order"
	CapExpireOrder      Capability = "expire_order"
	CapViewShopOrders   Capability = "view_shop_orders"
	CapAdjustWallet     Capability = "adjust_wallet"
	CapViewAnyWallet    Capability = "view_any_wallet"
)

var roleCapabilities = map[enums.Role][]Capability{
	enums.RoleStudent:    {CapPlaceOrder, CapCancelOwnPending},
	enums.RoleStaff:      {CapAdvanceShopOrder, CapCancelShopOrder, CapViewShopOrders},
	enums.RoleAccountant: {CapAdjustWallet, CapViewAnyWallet},
	enums.RoleAdmin:      {CapAdjustWallet, CapViewAnyWallet, CapViewShopOrders},
	enums.RoleSystem:     {CapExpireOrder},
}

// SystemUserID is the actor recorded for changes made by scheduled jobs.
var SystemUserID = uuid.MustParse("00000000-0000-0000-0000-00000000c0de")

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Role   enums.Role
	ShopID *uuid.UUID
}

// System returns the principal used by the order-expiry job.
func System() Principal {
	return Principal{UserID: SystemUserID, Role: enums.RoleSystem}
}

// CapabilitiesFor returns the capabilities granted to role. Unknown roles get none.
func CapabilitiesFor(role enums.Role) []Capability {
	caps := roleCapabilities[role]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// Can reports whether the principal's role grants capability.
func (p Principal) Can(capability Capability) bool {
	for _, granted := range roleCapabilities[p.Role] {
		if granted == capability {
			return true
		}
	}
	return false
}

// InShop reports whether the principal is bound to shopID.
func (p Principal) InShop(shopID uuid.UUID) bool {
	return p.ShopID != nil && *p.ShopID == shopID
}

// IsKnown reports whether the role belongs to the closed role set.
func (p Principal) IsKnown() bool {
	_, ok := roleCapabilities[p.Role]
	return ok
}

// CanViewShop reports whether the principal may read shopID's order board.
func (p Principal) CanViewShop(shopID uuid.UUID) bool {
	if !p.Can(CapViewShopOrders) {
		return false
	}
	return p.Role == enums.RoleAdmin || p.InShop(shopID)
}
