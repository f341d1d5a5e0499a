package orders

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
)

// MaxLineQuantity caps the merged quantity of one menu item in a cart.
const MaxLineQuantity = 1000

// CartLine is one requested menu item.
type CartLine struct {
	FoodItemID uuid.UUID `json:"food_item_id" validate:"required"`
	Quantity   int       `json:"quantity" validate:"required,gt=0,lte=1000"`
}

// BuildInput is a student's cart for one shop.
type BuildInput struct {
	UserID uuid.UUID
	ShopID uuid.UUID
	Lines  []CartLine
}

// Build validates the cart against menu and returns an unsaved pending order with
// snapshotted prices. Repeated lines for the same item are merged. OrderNumber and
// PickupToken are assigned at persistence time.
func Build(input BuildInput, menu map[uuid.UUID]models.MenuItem, now time.Time) (*models.Order, error) {
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeEmptyCart, "cart is empty")
	}
	if input.UserID == uuid.Nil || input.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user and shop are required")
	}

	quantities := make(map[uuid.UUID]int, len(input.Lines))
	order := make([]uuid.UUID, 0, len(input.Lines))
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"food_item_id": line.FoodItemID.String(), "quantity": line.Quantity})
		}
		if _, seen := quantities[line.FoodItemID]; !seen {
			order = append(order, line.FoodItemID)
		}
		if line.Quantity > MaxLineQuantity-quantities[line.FoodItemID] {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be at most %d per item", MaxLineQuantity)).
				WithDetails(map[string]any{"food_item_id": line.FoodItemID.String()})
		}
		quantities[line.FoodItemID] += line.Quantity
	}

	var unavailable []string
	for _, id := range order {
		item, ok := menu[id]
		if !ok || !item.IsAvailable {
			unavailable = append(unavailable, id.String())
		}
	}
	if len(unavailable) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeItemUnavailable, "some items are unavailable").
			WithDetails(map[string]any{"food_item_ids": unavailable})
	}

	orderID := uuid.New()
	built := &models.Order{
		ID:        orderID,
		UserID:    input.UserID,
		ShopID:    input.ShopID,
		Status:    enums.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, id := range order {
		item := menu[id]
		if item.ShopID != input.ShopID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item belongs to another shop").
				WithDetails(map[string]any{"food_item_id": id.String()})
		}
		qty := quantities[id]
		if item.PriceCents < 0 || (item.PriceCents > 0 && int64(qty) > math.MaxInt64/item.PriceCents) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line total out of range").
				WithDetails(map[string]any{"food_item_id": id.String()})
		}
		line := models.OrderItem{
			ID:             uuid.New(),
			OrderID:        orderID,
			FoodItemID:     id,
			Name:           item.Name,
			Quantity:       qty,
			UnitPriceCents: item.PriceCents,
			LineTotalCents: item.PriceCents * int64(qty),
			CreatedAt:      now,
		}
		if built.TotalCents > math.MaxInt64-line.LineTotalCents {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total out of range")
		}
		built.Items = append(built.Items, line)
		built.TotalCents += line.LineTotalCents
	}
	return built, nil
}

// ItemSummary renders the order lines as "2x Bagel, 1x Soup".
func ItemSummary(items []models.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%dx %s", item.Quantity, item.Name))
	}
	return strings.Join(parts, ", ")
}
