package domain

import (
	"math"
	"time"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// OrderFilter задаёт параметры выборки заказов.
type OrderFilter struct {
	Status      ItemStatus
	CreatedFrom time.Time
	CreatedTo   time.Time
	Search      string
	Page        int
	PageSize    int
}

// Normalize подставляет значения по умолчанию и проверяет границы.
func (f OrderFilter) Normalize() (OrderFilter, error) {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	if f.Page < 1 || f.PageSize < 1 || f.PageSize > MaxPageSize {
		return f, ErrInvalidPagination
	}
	// Смещение (Page-1)*PageSize должно помещаться в int.
	if f.Page > math.MaxInt/f.PageSize {
		return f, ErrInvalidPagination
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, ErrInvalidStatus
	}
	if !f.CreatedFrom.IsZero() && !f.CreatedTo.IsZero() && f.CreatedTo.Before(f.CreatedFrom) {
		return f, ErrInvalidDateRange
	}
	return f, nil
}

// Offset возвращает смещение страницы.
func (f OrderFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// OrderQuery привязывает фильтр к области видимости вызывающего.
type OrderQuery struct {
	Viewer Viewer
	OrderFilter
}

// OrderPage содержит страницу заказов.
type OrderPage struct {
	Orders   []Order
	Total    int
	Page     int
	PageSize int
}

// OrderStats содержит агрегаты по видимым позициям.
type OrderStats struct {
	Orders     int
	Items      int
	ByStatus   map[ItemStatus]int
	GrossMinor int64
}
