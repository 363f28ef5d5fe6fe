package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleCustomer = "Customer"
	RoleCompany  = "Company"
)

// RequestContext identifies the authenticated caller of an operation.
// CompanyID is empty for customers and for company users whose token carries no company claim.
type RequestContext struct {
	UserID    string
	Role      string
	CompanyID string
}

type Product struct {
	ID        string
	CompanyID string
	Name      string
	Price     decimal.Decimal
	Stock     int
}

type Company struct {
	ID          string
	OwnerUserID string
	Name        string
}

type Order struct {
	ID         string
	CustomerID string
	CompanyID  string
	Status     Status
	CreatedAt  time.Time
	Items      []OrderItem
}

type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Total sums the snapshotted unit prices of the order's items.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Money is an amount that goes over the wire as a JSON number with two decimals, e.g. 30.00.
type Money struct{ decimal.Decimal }

func (m Money) MarshalJSON() ([]byte, error) { return []byte(m.StringFixed(2)), nil }

// UnmarshalJSON accepts both numbers and quoted strings.
func (m *Money) UnmarshalJSON(b []byte) error { return m.Decimal.UnmarshalJSON(b) }

// Summary is the read projection used by the customer and company order lists.
type Summary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Status    string    `json:"status"`
	Total     Money     `json:"total"`
}

func (o Order) Summary() Summary {
	return Summary{
		ID:        o.ID,
		CreatedAt: o.CreatedAt,
		Status:    o.Status.String(),
		Total:     Money{o.Total()},
	}
}

type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type PlaceOrderRequest struct {
	CompanyID string      `json:"companyId"`
	Items     []ItemInput `json:"items"`
}

// Placement is returned after an order has been committed.
type Placement struct {
	OrderID   string    `json:"orderId"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	Total     Money     `json:"total"`
}
