package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemStore is an in-process Store. A single mutex serialises every write, which
// gives the same guarantees as the row locks of the Postgres store.
type MemStore struct {
	mu        sync.Mutex
	products  map[string]Product
	companies map[string]Company
	orders    map[string]Order
}

func NewMemStore() *MemStore {
	return &MemStore{
		products:  map[string]Product{},
		companies: map[string]Company{},
		orders:    map[string]Order{},
	}
}

// PutProduct inserts or replaces a catalog product.
func (m *MemStore) PutProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// PutCompany inserts or replaces a company.
func (m *MemStore) PutCompany(c Company) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies[c.ID] = c
}

// Catalog is the seed document accepted by Seed.
type Catalog struct {
	Companies []struct {
		ID          string `json:"id"`
		OwnerUserID string `json:"ownerUserId"`
		Name        string `json:"name"`
	} `json:"companies"`
	Products []struct {
		ID        string          `json:"id"`
		CompanyID string          `json:"companyId"`
		Name      string          `json:"name"`
		Price     decimal.Decimal `json:"price"`
		Stock     int             `json:"stock"`
	} `json:"products"`
}

// Seed loads companies and products from a JSON catalog.
func (m *MemStore) Seed(r io.Reader) error {
	var c Catalog
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return fmt.Errorf("decode catalog: %w", err)
	}
	for _, co := range c.Companies {
		m.PutCompany(Company{ID: co.ID, OwnerUserID: co.OwnerUserID, Name: co.Name})
	}
	for _, p := range c.Products {
		if p.Stock < 0 || p.Price.IsNegative() {
			return fmt.Errorf("product %s: negative stock or price", p.ID)
		}
		m.PutProduct(Product{ID: p.ID, CompanyID: p.CompanyID, Name: p.Name, Price: p.Price, Stock: p.Stock})
	}
	return nil
}

// Product returns the current catalog row.
func (m *MemStore) Product(id string) (Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	return p, ok
}

// OrderCount returns the number of stored orders.
func (m *MemStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *MemStore) ProductsByIDs(_ context.Context, ids []string) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	out := make([]Product, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemStore) PlaceOrder(_ context.Context, order Order, lines []ItemInput) (Order, error) {
	const op = "orders.PlaceOrder"
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check every line before touching anything.
	need := map[string]int{}
	for _, ln := range lines {
		p, ok := m.products[ln.ProductID]
		if !ok {
			return Order{}, newError(op, CodeInvalidProducts, "product disappeared")
		}
		if p.CompanyID != order.CompanyID {
			return Order{}, newError(op, CodeMixedCompanies, "product changed company")
		}
		need[p.ID] += ln.Quantity
		if p.Stock < need[p.ID] {
			return Order{}, outOfStock(op, p.Name)
		}
	}

	order.Items = make([]OrderItem, 0, len(lines))
	for _, ln := range lines {
		p := m.products[ln.ProductID]
		p.Stock -= ln.Quantity
		m.products[p.ID] = p
		order.Items = append(order.Items, OrderItem{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			ProductID: p.ID,
			Quantity:  ln.Quantity,
			UnitPrice: p.Price,
		})
	}
	m.orders[order.ID] = order
	return cloneOrder(order), nil
}

func (m *MemStore) UpdateStatus(_ context.Context, orderID string, decide func(Order) (Status, error)) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	next, err := decide(cloneOrder(o))
	if err != nil {
		return Order{}, err
	}
	o.Status = next
	m.orders[orderID] = o
	return cloneOrder(o), nil
}

func (m *MemStore) OrderByID(_ context.Context, orderID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemStore) OrdersByCustomer(_ context.Context, customerID string) ([]Order, error) {
	return m.filter(func(o Order) bool { return o.CustomerID == customerID }), nil
}

func (m *MemStore) OrdersByCompany(_ context.Context, companyID string) ([]Order, error) {
	return m.filter(func(o Order) bool { return o.CompanyID == companyID }), nil
}

func (m *MemStore) CompanyByOwner(_ context.Context, userID string) (Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []Company
	for _, c := range m.companies {
		if c.OwnerUserID == userID {
			found = append(found, c)
		}
	}
	if len(found) == 0 {
		return Company{}, ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found[0], nil
}

func (m *MemStore) filter(keep func(Order) bool) []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func cloneOrder(o Order) Order {
	items := make([]OrderItem, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}
