// Package inventory реализует Stock Ledger: единственный путь изменения остатков.
package inventory

import (
	"context"
	"errors"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/metrics"
)

// Option настраивает Ledger.
type Option func(*Ledger)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics задаёт метрики остатков.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// Ledger списывает и возвращает остаток через условные операции StockStore.
// Создаётся на каждую попытку транзакции поверх tx.Stock(): выполненные
// корректировки попадают в метрики только через RecordCommitted.
type Ledger struct {
	store   domain.StockStore
	logger  *log.Entry
	metrics *metrics.EngineMetrics
	applied []domain.StockAdjustment
}

// NewLedger создаёт Ledger поверх хранилища остатков.
func NewLedger(store domain.StockStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: log.WithField("component", "stock-ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Decrement списывает qty одним условным обновлением. При отказе второй запрос
// только уточняет причину: товара нет или остатка не хватает.
func (l *Ledger) Decrement(ctx context.Context, productID string, qty int64) error {
	if err := validate(productID, qty); err != nil {
		return err
	}

	applied, err := l.store.DecrementIfAvailable(ctx, productID, qty)
	if err != nil {
		return domain.Persistence("decrement stock", err)
	}
	if applied {
		l.applied = append(l.applied, domain.StockAdjustment{ProductID: productID, Quantity: qty, Direction: domain.StockDecrement})
		return nil
	}

	available, err := l.store.StockLevel(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return &domain.ProductNotFoundError{ProductID: productID}
		}
		return domain.Persistence("probe stock level", err)
	}

	l.metrics.RecordStockRejected()
	l.logger.WithFields(log.Fields{
		"product_id": productID,
		"requested":  qty,
		"available":  available,
	}).Debug("stock decrement rejected")

	return &domain.InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
}

// Restore безусловно возвращает qty на склад.
func (l *Ledger) Restore(ctx context.Context, productID string, qty int64) error {
	if err := validate(productID, qty); err != nil {
		return err
	}

	applied, err := l.store.Increment(ctx, productID, qty)
	if err != nil {
		return domain.Persistence("restore stock", err)
	}
	if !applied {
		return &domain.ProductNotFoundError{ProductID: productID}
	}

	l.applied = append(l.applied, domain.StockAdjustment{ProductID: productID, Quantity: qty, Direction: domain.StockRestore})
	return nil
}

// Applied возвращает корректировки, выполненные этим Ledger.
func (l *Ledger) Applied() []domain.StockAdjustment {
	if l == nil {
		return nil
	}
	return append([]domain.StockAdjustment(nil), l.applied...)
}

// RecordCommitted учитывает выполненные корректировки в метриках.
// Вызывается после успешной фиксации транзакции.
func (l *Ledger) RecordCommitted() {
	if l == nil {
		return
	}
	for _, adj := range l.applied {
		l.metrics.RecordStockAdjustment(string(adj.Direction), adj.Quantity)
	}
}

// BulkRestore суммирует возвраты по товару и применяет их по возрастанию id.
// Первый отсутствующий товар прерывает операцию; откат выполняет транзакция.
func (l *Ledger) BulkRestore(ctx context.Context, adjustments []domain.StockAdjustment) error {
	totals := make(map[string]int64, len(adjustments))
	for _, adj := range adjustments {
		if err := adj.Validate(); err != nil {
			return err
		}
		if adj.Direction != domain.StockRestore {
			return domain.ErrStockAdjustmentInvalid
		}
		totals[adj.ProductID] += adj.Quantity
	}

	for _, productID := range sortedKeys(totals) {
		if err := l.Restore(ctx, productID, totals[productID]); err != nil {
			return err
		}
	}
	return nil
}

// Apply выполняет корректировку согласно её направлению.
func (l *Ledger) Apply(ctx context.Context, adj domain.StockAdjustment) error {
	if err := adj.Validate(); err != nil {
		return err
	}
	if adj.Direction == domain.StockDecrement {
		return l.Decrement(ctx, adj.ProductID, adj.Quantity)
	}
	return l.Restore(ctx, adj.ProductID, adj.Quantity)
}

func validate(productID string, qty int64) error {
	return domain.StockAdjustment{ProductID: productID, Quantity: qty, Direction: domain.StockRestore}.Validate()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
