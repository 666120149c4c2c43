package domain

import "time"

// Address хранит снимок адреса доставки на момент оформления заказа.
type Address struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// OrderLine задаёт входную строку заказа: товар и количество.
type OrderLine struct {
	ProductID string
	Quantity  int64
}

// OrderItem представляет одну позицию заказа со своим статусом.
type OrderItem struct {
	ID      string
	OrderID string
	// BuyerID не хранится в позиции, а подтягивается из заказа при чтении.
	BuyerID     string
	ProductID   string
	ProductName string
	// SellerID денормализован из товара, чтобы продавца можно было определить без join.
	SellerID          string
	Quantity          int64
	PriceAtOrderMinor int64
	LineTotalMinor    int64
	Status            ItemStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Order агрегирует позиции. Суммы фиксируются при создании и не пересчитываются.
type Order struct {
	ID              string
	BuyerID         string
	OrderNumber     string
	Currency        string
	ShippingAddress Address
	SubtotalMinor   int64
	TaxMinor        int64
	TotalMinor      int64
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	var subtotal int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceAtOrderMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.LineTotalMinor != item.Quantity*item.PriceAtOrderMinor {
			errs = append(errs, ErrAmountMismatch)
		}
		subtotal += item.LineTotalMinor
	}
	if subtotal != o.SubtotalMinor || o.SubtotalMinor+o.TaxMinor != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	return o
}

// ItemIDs возвращает идентификаторы позиций в исходном порядке.
func (o Order) ItemIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

// CanCancel истинно, только если каждая позиция ещё в pending или processing.
func (o Order) CanCancel() bool {
	if len(o.Items) == 0 {
		return false
	}
	for _, item := range o.Items {
		if !item.Status.Cancellable() {
			return false
		}
	}
	return true
}

// ItemsOfSeller возвращает копию заказа только с позициями продавца.
func (o Order) ItemsOfSeller(sellerID string) Order {
	scoped := o
	scoped.Items = make([]OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			scoped.Items = append(scoped.Items, item)
		}
	}
	return scoped
}
