// Package checkout превращает корзину или явный список позиций в заказ.
//
// Вся цепочка (списание остатков, номер, запись заказа, очистка корзины,
// outbox и timeline) выполняется в одной транзакции: первая ошибка откатывает
// все предыдущие шаги.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/metrics"
	"github.com/vladislavdragonenkov/orderengine/internal/service/inventory"
	"github.com/vladislavdragonenkov/orderengine/internal/service/ordernumber"
)

const tracerName = "github.com/vladislavdragonenkov/orderengine/internal/service/checkout"

// CreateOrderRequest описывает оформление по явному списку позиций.
type CreateOrderRequest struct {
	BuyerID         string
	Lines           []domain.OrderLine
	ShippingAddress domain.Address
}

// CartCheckoutRequest описывает оформление всей корзины покупателя.
type CartCheckoutRequest struct {
	BuyerID         string
	ShippingAddress domain.Address
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTaxRate задаёт ставку налога, например 0.2 для 20%.
func WithTaxRate(rate decimal.Decimal) Option {
	return func(s *Service) {
		s.taxRate = rate
	}
}

// WithOrderNumbers подменяет генератор номеров.
func WithOrderNumbers(g *ordernumber.Generator) Option {
	return func(s *Service) {
		if g != nil {
			s.numbers = g
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTracer задаёт OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// Service оформляет заказы.
type Service struct {
	txm     domain.TxManager
	numbers *ordernumber.Generator
	taxRate decimal.Decimal
	logger  *log.Entry
	metrics *metrics.EngineMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService создаёт сервис оформления поверх менеджера транзакций.
func NewService(txm domain.TxManager, opts ...Option) *Service {
	s := &Service{
		txm:     txm,
		numbers: ordernumber.New(),
		taxRate: decimal.Zero,
		logger:  log.WithField("component", "checkout"),
		tracer:  otel.Tracer(tracerName),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateFromItems оформляет заказ по явному списку позиций.
func (s *Service) CreateFromItems(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.CreateFromItems",
		trace.WithAttributes(attribute.String("buyer.id", req.BuyerID), attribute.Int("order.lines", len(req.Lines))))
	defer span.End()

	buyerID := strings.TrimSpace(req.BuyerID)
	order, err := s.run(ctx, "create_from_items", buyerID, func(ctx context.Context, tx domain.Tx) (checkoutInput, error) {
		lines, err := normalizeLines(buyerID, req.Lines)
		if err != nil {
			return checkoutInput{}, err
		}
		return checkoutInput{lines: lines, address: req.ShippingAddress}, nil
	})
	endSpan(span, order, err)
	return order, err
}

// CreateFromCart оформляет всю корзину покупателя и удаляет потреблённые строки.
func (s *Service) CreateFromCart(ctx context.Context, req CartCheckoutRequest) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.CreateFromCart",
		trace.WithAttributes(attribute.String("buyer.id", req.BuyerID)))
	defer span.End()

	buyerID := strings.TrimSpace(req.BuyerID)
	order, err := s.run(ctx, "create_from_cart", buyerID, func(ctx context.Context, tx domain.Tx) (checkoutInput, error) {
		if buyerID == "" {
			return checkoutInput{}, domain.ErrBuyerRequired
		}
		items, err := tx.Carts().GetItems(ctx, buyerID)
		if err != nil {
			return checkoutInput{}, domain.Persistence("load cart", err)
		}
		if len(items) == 0 {
			return checkoutInput{}, domain.ErrEmptyCart
		}

		lines, err := normalizeLines(buyerID, domain.CartLines(items))
		if err != nil {
			return checkoutInput{}, err
		}
		consumed := make([]string, 0, len(items))
		for _, item := range items {
			consumed = append(consumed, item.ID)
		}
		return checkoutInput{lines: lines, address: req.ShippingAddress, cartItemIDs: consumed}, nil
	})
	endSpan(span, order, err)
	return order, err
}

type checkoutInput struct {
	lines       []domain.OrderLine
	address     domain.Address
	cartItemIDs []string
}

type inputFunc func(ctx context.Context, tx domain.Tx) (checkoutInput, error)

func (s *Service) run(ctx context.Context, operation, buyerID string, input inputFunc) (domain.Order, error) {
	started := time.Now()
	done := s.metrics.CheckoutStarted()
	defer done()

	var (
		created domain.Order
		ledger  *inventory.Ledger
	)
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		in, err := input(ctx, tx)
		if err != nil {
			return err
		}
		ledger = inventory.NewLedger(tx.Stock(), inventory.WithLogger(s.logger), inventory.WithMetrics(s.metrics))
		order, err := s.place(ctx, tx, ledger, buyerID, in)
		if err != nil {
			return err
		}
		created = order
		return nil
	})
	s.metrics.RecordOperationDuration("checkout", time.Since(started))

	logger := s.logger.WithFields(log.Fields{"operation": operation, "buyer_id": buyerID})
	if err != nil {
		err = domain.Persistence("checkout", err)
		reason := failureReason(err)
		s.metrics.RecordCheckoutFailure(reason)
		if reason == "persistence" {
			logger.WithError(err).Error("checkout failed")
		} else {
			logger.WithError(err).WithField("reason", reason).Info("checkout rejected")
		}
		return domain.Order{}, err
	}

	ledger.RecordCommitted()
	s.metrics.RecordOrderCreated()
	s.metrics.RecordOutboxEvent()
	s.metrics.RecordTimelineEvent()
	logger.WithFields(log.Fields{
		"order_id":     created.ID,
		"order_number": created.OrderNumber,
		"items":        len(created.Items),
		"total_minor":  created.TotalMinor,
	}).Info("order created")

	return created, nil
}

// place выполняет шаги оформления внутри уже открытой транзакции.
func (s *Service) place(ctx context.Context, tx domain.Tx, ledger *inventory.Ledger, buyerID string, in checkoutInput) (domain.Order, error) {
	productIDs := make([]string, 0, len(in.lines))
	for _, line := range in.lines {
		productIDs = append(productIDs, line.ProductID)
	}

	products, err := tx.Products().GetProducts(ctx, productIDs)
	if err != nil {
		return domain.Order{}, domain.Persistence("load products", err)
	}
	for _, id := range productIDs {
		if _, ok := products[id]; !ok {
			return domain.Order{}, &domain.ProductNotFoundError{ProductID: id}
		}
	}

	// Единый порядок блокировок строк products для параллельных оформлений.
	byProduct := append([]domain.OrderLine(nil), in.lines...)
	sort.Slice(byProduct, func(i, j int) bool { return byProduct[i].ProductID < byProduct[j].ProductID })
	for _, line := range byProduct {
		if err := ledger.Decrement(ctx, line.ProductID, line.Quantity); err != nil {
			return domain.Order{}, err
		}
	}

	order, err := s.buildOrder(buyerID, in, products)
	if err != nil {
		return domain.Order{}, err
	}

	number, err := s.numbers.Generate(ctx, tx.Orders().OrderNumberExists)
	if err != nil {
		return domain.Order{}, err
	}
	order.OrderNumber = number

	if len(in.cartItemIDs) > 0 {
		if err := tx.Carts().RemoveItems(ctx, buyerID, in.cartItemIDs); err != nil {
			return domain.Order{}, domain.Persistence("remove cart items", err)
		}
	}

	if err := tx.Orders().CreateOrder(ctx, order); err != nil {
		return domain.Order{}, domain.Persistence("create order", err)
	}

	msg, err := domain.NewOrderCreatedMessage(order)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return domain.Order{}, domain.Persistence("enqueue order event", err)
	}

	if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelineOrderCreated,
		Reason:   fmt.Sprintf("order %s placed with %d items", order.OrderNumber, len(order.Items)),
		Occurred: order.CreatedAt,
	}); err != nil {
		return domain.Order{}, domain.Persistence("append timeline", err)
	}

	return order, nil
}

func (s *Service) buildOrder(buyerID string, in checkoutInput, products map[string]domain.Product) (domain.Order, error) {
	now := s.now()
	order := domain.Order{
		ID:              uuid.NewString(),
		BuyerID:         buyerID,
		ShippingAddress: in.address,
		Items:           make([]domain.OrderItem, 0, len(in.lines)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	subtotal := decimal.Zero
	for i, line := range in.lines {
		product := products[line.ProductID]
		if i == 0 {
			order.Currency = product.Currency
		} else if product.Currency != order.Currency {
			return domain.Order{}, fmt.Errorf("%w: %s and %s", domain.ErrCurrencyMismatch, order.Currency, product.Currency)
		}
		if product.PriceMinor < 0 {
			return domain.Order{}, domain.ErrItemPriceInvalid
		}

		lineTotal := decimal.NewFromInt(line.Quantity).Mul(decimal.NewFromInt(product.PriceMinor))
		lineTotalMinor, err := toMinor(lineTotal)
		if err != nil {
			return domain.Order{}, err
		}
		subtotal = subtotal.Add(lineTotal)

		order.Items = append(order.Items, domain.OrderItem{
			ID:                uuid.NewString(),
			OrderID:           order.ID,
			BuyerID:           buyerID,
			ProductID:         product.ID,
			ProductName:       product.Name,
			SellerID:          product.SellerID,
			Quantity:          line.Quantity,
			PriceAtOrderMinor: product.PriceMinor,
			LineTotalMinor:    lineTotalMinor,
			Status:            domain.ItemStatusPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	tax := subtotal.Mul(s.taxRate).Round(0)
	var err error
	if order.SubtotalMinor, err = toMinor(subtotal); err != nil {
		return domain.Order{}, err
	}
	if order.TaxMinor, err = toMinor(tax); err != nil {
		return domain.Order{}, err
	}
	if order.TotalMinor, err = toMinor(subtotal.Add(tax)); err != nil {
		return domain.Order{}, err
	}

	if violations := order.ValidateInvariants(); len(violations) > 0 {
		return domain.Order{}, errors.Join(violations...)
	}
	return order, nil
}

// normalizeLines проверяет строки и склеивает повторы товара, сохраняя порядок первого вхождения.
func normalizeLines(buyerID string, lines []domain.OrderLine) ([]domain.OrderLine, error) {
	if buyerID == "" {
		return nil, domain.ErrBuyerRequired
	}
	if len(lines) == 0 {
		return nil, domain.ErrItemsRequired
	}

	merged := make([]domain.OrderLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, domain.ErrProductIDRequired
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s", domain.ErrItemQtyInvalid, productID)
		}

		if i, ok := index[productID]; ok {
			sum, err := toMinor(decimal.NewFromInt(merged[i].Quantity).Add(decimal.NewFromInt(line.Quantity)))
			if err != nil {
				return nil, err
			}
			merged[i].Quantity = sum
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, domain.OrderLine{ProductID: productID, Quantity: line.Quantity})
	}
	return merged, nil
}

func toMinor(d decimal.Decimal) (int64, error) {
	if !d.IsInteger() {
		return 0, fmt.Errorf("%w: %s is not a whole number of minor units", domain.ErrAmountOverflow, d)
	}
	value := d.BigInt()
	if !value.IsInt64() {
		return 0, fmt.Errorf("%w: %s", domain.ErrAmountOverflow, d)
	}
	return value.Int64(), nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case domain.IsValidation(err):
		return "validation"
	default:
		return "persistence"
	}
}

func endSpan(span trace.Span, order domain.Order, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.number", order.OrderNumber),
		attribute.Int64("order.total_minor", order.TotalMinor),
	)
}
