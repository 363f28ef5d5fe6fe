package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type ItemPrice struct {
	ProductID string          `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderPlacedPayload struct {
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	CompanyID  string          `json:"company_id"`
	Status     Status          `json:"status"`
	Items      []ItemPrice     `json:"items"`
	Total      decimal.Decimal `json:"total"`
	CreatedAt  time.Time       `json:"created_at"`
}

type OrderStatusChangedPayload struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	CompanyID  string    `json:"company_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	ChangedAt  time.Time `json:"changed_at"`
}

// NewEnvelope wraps payload in a version 1 envelope correlated by orderID.
func NewEnvelope(eventType, producer, orderID string, at time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}

func placedPayload(o Order) OrderPlacedPayload {
	items := make([]ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPrice{ProductID: it.ProductID, Qty: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return OrderPlacedPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		CompanyID:  o.CompanyID,
		Status:     o.Status,
		Items:      items,
		Total:      o.Total(),
		CreatedAt:  o.CreatedAt,
	}
}
