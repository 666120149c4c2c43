package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

func TestDecodeFixture(t *testing.T) {
	fx, err := decodeFixture(strings.NewReader(`{
		"products": [{"id": "lamp", "seller_id": "seller-1", "name": "Lamp", "price_minor": 1500, "stock": 5}],
		"cart_items": [{"buyer_id": "buyer-1", "product_id": "lamp", "quantity": 2}]
	}`))
	require.NoError(t, err)
	require.Len(t, fx.Products, 1)
	require.Len(t, fx.CartItems, 1)
	assert.Equal(t, int64(1500), fx.Products[0].PriceMinor)
	assert.Equal(t, int64(2), fx.CartItems[0].Quantity)
}

func TestDecodeFixture_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", `{"orders": []}`, "unknown field"},
		{"product without seller", `{"products": [{"id": "lamp", "stock": 1}]}`, "seller_id"},
		{"negative stock", `{"products": [{"id": "lamp", "seller_id": "s", "stock": -1}]}`, "stock must be >= 0"},
		{"zero quantity", `{"cart_items": [{"buyer_id": "b", "product_id": "lamp", "quantity": 0}]}`, "quantity must be > 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeFixture(strings.NewReader(tt.body))
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestFixtureLoad(t *testing.T) {
	store := &stubSeedStore{conflictIDs: map[string]bool{"existing": true}}
	fx := fixture{
		Products: []productFixture{{ID: "lamp", SellerID: "seller-1", PriceMinor: 1500, Stock: 5}},
		CartItems: []cartItemFixture{
			{ID: "existing", BuyerID: "buyer-1", ProductID: "lamp", Quantity: 1},
			{BuyerID: "buyer-1", ProductID: "lamp", Quantity: 2},
		},
	}

	products, cartItems, err := fx.load(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 1, products)
	assert.Equal(t, 1, cartItems)
	require.Len(t, store.products, 1)
	assert.Equal(t, "USD", store.products[0].Currency)
	require.Len(t, store.cartItems, 1)
	assert.NotEmpty(t, store.cartItems[0].ID)
}

func TestFixtureLoad_StopsOnError(t *testing.T) {
	store := &stubSeedStore{productErr: errors.New("connection reset")}
	fx := fixture{Products: []productFixture{{ID: "lamp", SellerID: "seller-1"}}}

	_, _, err := fx.load(context.Background(), store)
	require.ErrorContains(t, err, "product lamp")
}

type stubSeedStore struct {
	products    []domain.Product
	cartItems   []domain.CartItem
	conflictIDs map[string]bool
	productErr  error
}

func (s *stubSeedStore) UpsertProduct(_ context.Context, product domain.Product) error {
	if s.productErr != nil {
		return s.productErr
	}
	s.products = append(s.products, product)
	return nil
}

func (s *stubSeedStore) AddCartItem(_ context.Context, item domain.CartItem) error {
	if s.conflictIDs[item.ID] {
		return domain.ErrConflict
	}
	s.cartItems = append(s.cartItems, item)
	return nil
}
