package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

type orderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type createOrderRequest struct {
	Items           []orderLineRequest `json:"items"`
	ShippingAddress domain.Address     `json:"shipping_address"`
}

type cartCheckoutRequest struct {
	ShippingAddress domain.Address `json:"shipping_address"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type bulkStatusRequest struct {
	ItemIDs []string `json:"item_ids"`
	Status  string   `json:"status"`
}

type bulkCancelRequest struct {
	ItemIDs []string `json:"item_ids"`
}

type orderItemResponse struct {
	ID                string    `json:"id"`
	OrderID           string    `json:"order_id"`
	ProductID         string    `json:"product_id"`
	ProductName       string    `json:"product_name"`
	SellerID          string    `json:"seller_id"`
	Quantity          int64     `json:"quantity"`
	PriceAtOrderMinor int64     `json:"price_at_order_minor"`
	LineTotalMinor    int64     `json:"line_total_minor"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"order_number"`
	BuyerID         string              `json:"buyer_id"`
	Currency        string              `json:"currency"`
	ShippingAddress domain.Address      `json:"shipping_address"`
	SubtotalMinor   int64               `json:"subtotal_minor"`
	TaxMinor        int64               `json:"tax_minor"`
	TotalMinor      int64               `json:"total_minor"`
	Items           []orderItemResponse `json:"items"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type orderListResponse struct {
	Orders   []orderResponse `json:"orders"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

type orderItemsResponse struct {
	Items []orderItemResponse `json:"items"`
}

type statsResponse struct {
	Orders     int            `json:"orders"`
	Items      int            `json:"items"`
	ByStatus   map[string]int `json:"by_status"`
	GrossMinor int64          `json:"gross_minor"`
}

type cancellableResponse struct {
	OrderID     string `json:"order_id"`
	Cancellable bool   `json:"cancellable"`
}

type timelineEventResponse struct {
	Type       string    `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type timelineResponse struct {
	OrderID string                  `json:"order_id"`
	Events  []timelineEventResponse `json:"events"`
}

type bulkStatusResponse struct {
	ItemIDs []string `json:"item_ids"`
	Status  string   `json:"status"`
}

func toOrderItemResponse(item domain.OrderItem) orderItemResponse {
	return orderItemResponse{
		ID:                item.ID,
		OrderID:           item.OrderID,
		ProductID:         item.ProductID,
		ProductName:       item.ProductName,
		SellerID:          item.SellerID,
		Quantity:          item.Quantity,
		PriceAtOrderMinor: item.PriceAtOrderMinor,
		LineTotalMinor:    item.LineTotalMinor,
		Status:            string(item.Status),
		CreatedAt:         item.CreatedAt,
		UpdatedAt:         item.UpdatedAt,
	}
}

func toOrderItemsResponse(items []domain.OrderItem) []orderItemResponse {
	out := make([]orderItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toOrderItemResponse(item))
	}
	return out
}

func toOrderResponse(order domain.Order) orderResponse {
	return orderResponse{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		BuyerID:         order.BuyerID,
		Currency:        order.Currency,
		ShippingAddress: order.ShippingAddress,
		SubtotalMinor:   order.SubtotalMinor,
		TaxMinor:        order.TaxMinor,
		TotalMinor:      order.TotalMinor,
		Items:           toOrderItemsResponse(order.Items),
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

func toStatsResponse(stats domain.OrderStats) statsResponse {
	byStatus := make(map[string]int, len(domain.AllItemStatuses()))
	for _, status := range domain.AllItemStatuses() {
		byStatus[string(status)] = stats.ByStatus[status]
	}
	return statsResponse{
		Orders:     stats.Orders,
		Items:      stats.Items,
		ByStatus:   byStatus,
		GrossMinor: stats.GrossMinor,
	}
}

func toTimelineResponse(orderID string, events []domain.TimelineEvent) timelineResponse {
	out := make([]timelineEventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, timelineEventResponse{
			Type:       event.Type,
			Reason:     event.Reason,
			OccurredAt: event.Occurred,
		})
	}
	return timelineResponse{OrderID: orderID, Events: out}
}

func (r createOrderRequest) lines() []domain.OrderLine {
	lines := make([]domain.OrderLine, 0, len(r.Items))
	for _, item := range r.Items {
		lines = append(lines, domain.OrderLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

var errBodyRequired = errors.New("request body is required")

// decodeJSON читает тело не больше maxBodyBytes и отклоняет неизвестные поля.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
