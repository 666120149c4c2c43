package domain

import (
	"fmt"
	"strings"
)

// Role задаёт закрытое множество ролей вызывающего.
type Role int

const (
	roleUnknown Role = iota
	// RoleBuyer видит свои заказы целиком.
	RoleBuyer
	// RoleSeller видит только свои позиции в чужих заказах.
	RoleSeller
)

// ParseRole разбирает роль на границе системы без учёта регистра.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buyer":
		return RoleBuyer, nil
	case "seller":
		return RoleSeller, nil
	default:
		return roleUnknown, fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
}

func (r Role) String() string {
	switch r {
	case RoleBuyer:
		return "buyer"
	case RoleSeller:
		return "seller"
	default:
		return "unknown"
	}
}

// Viewer описывает вызывающего, уже опознанного внешним auth-слоем.
type Viewer struct {
	UserID string
	Role   Role
}

// Buyer создаёт Viewer покупателя.
func Buyer(id string) Viewer { return Viewer{UserID: id, Role: RoleBuyer} }

// Seller создаёт Viewer продавца.
func Seller(id string) Viewer { return Viewer{UserID: id, Role: RoleSeller} }

// Validate проверяет, что вызывающий опознан.
func (v Viewer) Validate() error {
	if strings.TrimSpace(v.UserID) == "" {
		return ErrUnauthenticated
	}
	if v.Role != RoleBuyer && v.Role != RoleSeller {
		return ErrInvalidRole
	}
	return nil
}

// Owns сообщает, может ли вызывающий видеть и менять позицию.
func (v Viewer) Owns(item OrderItem) bool {
	switch v.Role {
	case RoleBuyer:
		return item.BuyerID == v.UserID
	case RoleSeller:
		return item.SellerID == v.UserID
	default:
		return false
	}
}

// Scope возвращает заказ в видимой вызывающему форме и признак видимости.
func (v Viewer) Scope(order Order) (Order, bool) {
	switch v.Role {
	case RoleBuyer:
		return order, order.BuyerID == v.UserID
	case RoleSeller:
		scoped := order.ItemsOfSeller(v.UserID)
		return scoped, len(scoped.Items) > 0
	default:
		return Order{}, false
	}
}
