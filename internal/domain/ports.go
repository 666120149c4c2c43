package domain

import (
	"context"
	"time"
)

// StockStore описывает примитивы хранилища остатков. Использует только Stock Ledger.
type StockStore interface {
	// DecrementIfAvailable атомарно уменьшает остаток, если его достаточно.
	// false означает, что условный UPDATE не затронул ни одной строки.
	DecrementIfAvailable(ctx context.Context, productID string, qty int64) (bool, error)
	// Increment безусловно увеличивает остаток. false — товара нет.
	Increment(ctx context.Context, productID string, qty int64) (bool, error)
	// StockLevel возвращает текущий остаток или ErrProductNotFound.
	StockLevel(ctx context.Context, productID string) (int64, error)
}

// ProductCatalog читает каталог: цену, продавца, существование товара.
type ProductCatalog interface {
	GetProduct(ctx context.Context, id string) (Product, error)
	// GetProducts возвращает найденные товары; отсутствующие просто не попадают в map.
	GetProducts(ctx context.Context, ids []string) (map[string]Product, error)
}

// CartRepository отделяет внешний сервис корзины.
type CartRepository interface {
	GetItems(ctx context.Context, buyerID string) ([]CartItem, error)
	// RemoveItems удаляет ровно потреблённые строки корзины.
	RemoveItems(ctx context.Context, buyerID string, itemIDs []string) error
	ClearItems(ctx context.Context, buyerID string) error
}

// OrderWriter пишет заказы внутри транзакции.
type OrderWriter interface {
	OrderNumberExists(ctx context.Context, number string) (bool, error)
	// CreateOrder сохраняет заказ с позициями. Дубликат номера — ErrConflict.
	CreateOrder(ctx context.Context, order Order) error
	// GetItemsForUpdate загружает позиции с блокировкой строк; ненайденные пропускаются.
	GetItemsForUpdate(ctx context.Context, ids []string) ([]OrderItem, error)
	// UpdateItemStatuses пакетно меняет статус и возвращает число затронутых строк.
	UpdateItemStatuses(ctx context.Context, ids []string, status ItemStatus, updatedAt time.Time) (int, error)
}

// OrderReader читает заказы для слоя запросов, вне транзакций оформления.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (Order, error)
	GetOrderItem(ctx context.Context, id string) (OrderItem, error)
	// ListOrders применяет область видимости q.Viewer: у продавца в заказах остаются только его позиции.
	ListOrders(ctx context.Context, q OrderQuery) ([]Order, int, error)
	Stats(ctx context.Context, viewer Viewer) (OrderStats, error)
}

// OutboxWriter ставит события в transactional outbox.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	OutboxWriter
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// TimelineWriter дописывает события жизненного цикла заказа.
type TimelineWriter interface {
	Append(ctx context.Context, event TimelineEvent) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	TimelineWriter
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Tx объединяет хранилища, привязанные к одной транзакции.
type Tx interface {
	Stock() StockStore
	Products() ProductCatalog
	Carts() CartRepository
	Orders() OrderWriter
	Outbox() OutboxWriter
	Timeline() TimelineWriter
}

// TxManager выполняет fn в одной транзакции: ошибка fn откатывает всё.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
