package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

// fixture описывает содержимое файла -seed.
type fixture struct {
	Products  []productFixture  `json:"products"`
	CartItems []cartItemFixture `json:"cart_items"`
}

type productFixture struct {
	ID         string `json:"id"`
	SellerID   string `json:"seller_id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	Currency   string `json:"currency"`
	Stock      int64  `json:"stock"`
}

type cartItemFixture struct {
	ID        string `json:"id"`
	BuyerID   string `json:"buyer_id"`
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// seedStore содержит операции заготовки данных, которые даёт postgres.Store.
type seedStore interface {
	UpsertProduct(ctx context.Context, product domain.Product) error
	AddCartItem(ctx context.Context, item domain.CartItem) error
}

func readFixture(path string) (fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return fixture{}, err
	}
	defer f.Close()
	return decodeFixture(f)
}

func decodeFixture(r io.Reader) (fixture, error) {
	var fx fixture
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fx); err != nil {
		return fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	return fx, fx.validate()
}

func (fx fixture) validate() error {
	var errs []error
	for i, p := range fx.Products {
		if p.ID == "" || p.SellerID == "" {
			errs = append(errs, fmt.Errorf("products[%d]: id and seller_id are required", i))
		}
		if p.PriceMinor < 0 || p.Stock < 0 {
			errs = append(errs, fmt.Errorf("products[%d]: price_minor and stock must be >= 0", i))
		}
	}
	for i, c := range fx.CartItems {
		if c.BuyerID == "" || c.ProductID == "" {
			errs = append(errs, fmt.Errorf("cart_items[%d]: buyer_id and product_id are required", i))
		}
		if c.Quantity <= 0 {
			errs = append(errs, fmt.Errorf("cart_items[%d]: quantity must be > 0", i))
		}
	}
	return errors.Join(errs...)
}

// load заводит товары, затем корзины. Товары перезаписываются, строки корзины
// с уже существующим id пропускаются.
func (fx fixture) load(ctx context.Context, store seedStore) (int, int, error) {
	for _, p := range fx.Products {
		currency := p.Currency
		if currency == "" {
			currency = "USD"
		}
		if err := store.UpsertProduct(ctx, domain.Product{
			ID:         p.ID,
			SellerID:   p.SellerID,
			Name:       p.Name,
			PriceMinor: p.PriceMinor,
			Currency:   currency,
			Stock:      p.Stock,
		}); err != nil {
			return 0, 0, fmt.Errorf("product %s: %w", p.ID, err)
		}
	}

	added := 0
	for _, c := range fx.CartItems {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		err := store.AddCartItem(ctx, domain.CartItem{
			ID:        id,
			BuyerID:   c.BuyerID,
			ProductID: c.ProductID,
			Quantity:  c.Quantity,
		})
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, 0, fmt.Errorf("cart item %s: %w", id, err)
		}
		added++
	}
	return len(fx.Products), added, nil
}
