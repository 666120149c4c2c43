package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

// Store реализует in-memory хранилище с транзакциями для локальной разработки и тестов.
//
// Транзакции сериализуются writer-мьютексом. Каждая мутация внутри транзакции
// записывает обратную операцию в undo-лог, который проигрывается в обратном
// порядке, если fn вернула ошибку.
type Store struct {
	mu sync.RWMutex

	products      map[string]domain.Product
	carts         map[string][]domain.CartItem
	orders        map[string]*domain.Order
	orderByNumber map[string]string
	itemOrder     map[string]string
	outbox        map[string]*outboxRecord
	outboxSeq     int64
	timeline      map[string][]domain.TimelineEvent

	now func() time.Time
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		products:      make(map[string]domain.Product),
		carts:         make(map[string][]domain.CartItem),
		orders:        make(map[string]*domain.Order),
		orderByNumber: make(map[string]string),
		itemOrder:     make(map[string]string),
		outbox:        make(map[string]*outboxRecord),
		timeline:      make(map[string][]domain.TimelineEvent),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Ping всегда успешен: хранилище живёт в процессе.
func (s *Store) Ping(context.Context) error { return nil }

// WithinTx выполняет fn под эксклюзивной блокировкой и откатывает её изменения при ошибке.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	// Контекст мог истечь, пока fn работала: коммит не должен пережить отмену.
	return ctx.Err()
}

// memTx реализует все tx-bound порты поверх Store, уже захваченного на запись.
type memTx struct {
	s    *Store
	undo []func()
}

func (tx *memTx) onRollback(fn func()) {
	tx.undo = append(tx.undo, fn)
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) Stock() domain.StockStore        { return tx }
func (tx *memTx) Products() domain.ProductCatalog { return tx }
func (tx *memTx) Carts() domain.CartRepository    { return tx }
func (tx *memTx) Orders() domain.OrderWriter      { return tx }
func (tx *memTx) Outbox() domain.OutboxWriter     { return tx }
func (tx *memTx) Timeline() domain.TimelineWriter { return tx }

var (
	_ domain.TxManager = (*Store)(nil)
	_ domain.Tx        = (*memTx)(nil)
)
