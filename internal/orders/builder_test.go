package orders

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
)

func menuFixture(shopID uuid.UUID) (map[uuid.UUID]models.MenuItem, models.MenuItem, models.MenuItem, models.MenuItem) {
	bagel := models.MenuItem{ID: uuid.New(), ShopID: shopID, Name: "Bagel", PriceCents: 250, IsAvailable: true}
	soup := models.MenuItem{ID: uuid.New(), ShopID: shopID, Name: "Soup", PriceCents: 400, IsAvailable: true}
	pie := models.MenuItem{ID: uuid.New(), ShopID: shopID, Name: "Pie", PriceCents: 300, IsAvailable: false}
	return map[uuid.UUID]models.MenuItem{bagel.ID: bagel, soup.ID: soup, pie.ID: pie}, bagel, soup, pie
}

func TestBuildSnapshotsPricesAndMergesLines(t *testing.T) {
	shopID := uuid.New()
	userID := uuid.New()
	menu, bagel, soup, _ := menuFixture(shopID)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	order, err := Build(BuildInput{
		UserID: userID,
		ShopID: shopID,
		Lines: []CartLine{
			{FoodItemID: bagel.ID, Quantity: 1},
			{FoodItemID: soup.ID, Quantity: 1},
			{FoodItemID: bagel.ID, Quantity: 2},
		},
	}, menu, now)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPending, order.Status)
	require.Equal(t, userID, order.UserID)
	require.Len(t, order.Items, 2)
	require.Equal(t, 3, order.Items[0].Quantity)
	require.Equal(t, int64(750), order.Items[0].LineTotalCents)
	require.Equal(t, int64(1150), order.TotalCents)
	for _, item := range order.Items {
		require.Equal(t, order.ID, item.OrderID)
	}
	require.Equal(t, "3x Bagel, 1x Soup", ItemSummary(order.Items))
}

func TestBuildRejectsBadCarts(t *testing.T) {
	shopID := uuid.New()
	menu, bagel, _, pie := menuFixture(shopID)
	foreign := models.MenuItem{ID: uuid.New(), ShopID: uuid.New(), Name: "Taco", PriceCents: 500, IsAvailable: true}
	menu[foreign.ID] = foreign

	cases := []struct {
		name  string
		lines []CartLine
		code  pkgerrors.Code
	}{
		{"empty", nil, pkgerrors.CodeEmptyCart},
		{"zero quantity", []CartLine{{FoodItemID: bagel.ID, Quantity: 0}}, pkgerrors.CodeValidation},
		{"negative quantity", []CartLine{{FoodItemID: bagel.ID, Quantity: -1}}, pkgerrors.CodeValidation},
		{"unknown item", []CartLine{{FoodItemID: uuid.New(), Quantity: 1}}, pkgerrors.CodeItemUnavailable},
		{"unavailable item", []CartLine{{FoodItemID: bagel.ID, Quantity: 1}, {FoodItemID: pie.ID, Quantity: 1}}, pkgerrors.CodeItemUnavailable},
		{"other shop", []CartLine{{FoodItemID: foreign.ID, Quantity: 1}}, pkgerrors.CodeValidation},
		{"quantity over cap", []CartLine{{FoodItemID: bagel.ID, Quantity: MaxLineQuantity + 1}}, pkgerrors.CodeValidation},
		{"merged quantity over cap", []CartLine{{FoodItemID: bagel.ID, Quantity: MaxLineQuantity}, {FoodItemID: bagel.ID, Quantity: 1}}, pkgerrors.CodeValidation},
		{"wrapping quantity", []CartLine{{FoodItemID: bagel.ID, Quantity: 1 + 1<<61}}, pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order, err := Build(BuildInput{UserID: uuid.New(), ShopID: shopID, Lines: tc.lines}, menu, time.Now().UTC())
			require.Nil(t, order)
			require.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
		})
	}
}

func TestBuildRejectsTotalsThatOverflow(t *testing.T) {
	shopID := uuid.New()
	pricey := models.MenuItem{ID: uuid.New(), ShopID: shopID, Name: "Catering tray", PriceCents: math.MaxInt64/2 + 1, IsAvailable: true}
	other := models.MenuItem{ID: uuid.New(), ShopID: shopID, Name: "Party platter", PriceCents: math.MaxInt64/2 + 1, IsAvailable: true}
	menu := map[uuid.UUID]models.MenuItem{pricey.ID: pricey, other.ID: other}

	_, err := Build(BuildInput{UserID: uuid.New(), ShopID: shopID, Lines: []CartLine{{FoodItemID: pricey.ID, Quantity: 2}}}, menu, time.Now().UTC())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = Build(BuildInput{UserID: uuid.New(), ShopID: shopID, Lines: []CartLine{
		{FoodItemID: pricey.ID, Quantity: 1},
		{FoodItemID: other.ID, Quantity: 1},
	}}, menu, time.Now().UTC())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestBuildAcceptsQuantityAtCap(t *testing.T) {
	shopID := uuid.New()
	menu, bagel, _, _ := menuFixture(shopID)

	order, err := Build(BuildInput{UserID: uuid.New(), ShopID: shopID, Lines: []CartLine{{FoodItemID: bagel.ID, Quantity: MaxLineQuantity}}}, menu, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, int64(MaxLineQuantity)*bagel.PriceCents, order.TotalCents)
}

func TestTokenGenerator(t *testing.T) {
	_, err := NewTokenGenerator(2)
	require.Error(t, err)

	gen, err := NewTokenGenerator(4)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		token, err := gen.Generate()
		require.NoError(t, err)
		require.Len(t, token, 4)
		for _, r := range token {
			require.Contains(t, TokenAlphabet, string(r))
		}
	}
}
