package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	topics []string
	events []Envelope
}

func (s *recordingSink) Emit(_ context.Context, topic string, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topic)
	s.events = append(s.events, env)
	return nil
}

func (s *recordingSink) last() (string, Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topics[len(s.topics)-1], s.events[len(s.events)-1]
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

var (
	alice   = RequestContext{UserID: "alice", Role: RoleCustomer}
	bob     = RequestContext{UserID: "bob", Role: RoleCustomer}
	acme    = RequestContext{UserID: "owner-1", Role: RoleCompany, CompanyID: "co-1"}
	globex  = RequestContext{UserID: "owner-2", Role: RoleCompany, CompanyID: "co-2"}
	nobody  = RequestContext{UserID: "drifter", Role: RoleCompany}
	dec     = decimal.RequireFromString
	p10, p2 = dec("10"), dec("2.50")
)

func newTestService(t *testing.T) (*Service, *MemStore, *recordingSink) {
	t.Helper()
	store := NewMemStore()
	store.PutCompany(Company{ID: "co-1", OwnerUserID: "owner-1", Name: "Acme"})
	store.PutCompany(Company{ID: "co-2", OwnerUserID: "owner-2", Name: "Globex"})
	store.PutProduct(Product{ID: "p", CompanyID: "co-1", Name: "P", Price: p10, Stock: 5})
	store.PutProduct(Product{ID: "q", CompanyID: "co-1", Name: "Q", Price: p2, Stock: 100})
	store.PutProduct(Product{ID: "r", CompanyID: "co-2", Name: "R", Price: dec("7"), Stock: 3})
	sink := &recordingSink{}
	return &Service{Store: store, Events: sink, ServiceName: "test"}, store, sink
}

func place(companyID string, items ...ItemInput) PlaceOrderRequest {
	return PlaceOrderRequest{CompanyID: companyID, Items: items}
}

func item(id string, qty int) ItemInput { return ItemInput{ProductID: id, Quantity: qty} }

func stock(t *testing.T, store *MemStore, id string) int {
	t.Helper()
	p, ok := store.Product(id)
	require.True(t, ok)
	return p.Stock
}

func TestPlace_Success(t *testing.T) {
	svc, store, sink := newTestService(t)
	ctx := context.Background()

	res, err := svc.Place(ctx, alice, place("co-1", item("p", 3), item("q", 2)))
	require.NoError(t, err)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, StatusNew, res.Status)
	assert.Equal(t, "35.00", res.Total.StringFixed(2))
	assert.Equal(t, 2, stock(t, store, "p"))
	assert.Equal(t, 98, stock(t, store, "q"))

	o, err := store.OrderByID(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "alice", o.CustomerID)
	assert.Equal(t, "co-1", o.CompanyID)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "p", o.Items[0].ProductID)
	assert.True(t, p10.Equal(o.Items[0].UnitPrice))

	topic, env := sink.last()
	assert.Equal(t, TopicOrderPlaced, topic)
	assert.Equal(t, EventOrderPlaced, env.EventType)
	assert.Equal(t, res.OrderID, env.CorrelationID)
	var payload OrderPlacedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "co-1", payload.CompanyID)
	assert.Len(t, payload.Items, 2)
}

func TestPlace_StockExhaustedBySecondOrder(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Place(ctx, alice, place("co-1", item("p", 3)))
	require.NoError(t, err)
	assert.Equal(t, "30.00", res.Total.StringFixed(2))
	assert.Equal(t, 2, stock(t, store, "p"))

	_, err = svc.Place(ctx, bob, place("co-1", item("p", 3)))
	var oe *Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "OUT_OF_STOCK:P", oe.Wire())
	assert.Equal(t, 2, stock(t, store, "p"))
	assert.Equal(t, 1, store.OrderCount())
}

func TestPlace_ValidationFailuresLeaveNoTrace(t *testing.T) {
	cases := []struct {
		name string
		rc   RequestContext
		req  PlaceOrderRequest
		want string
	}{
		{"unknown product", alice, place("co-1", item("p", 1), item("ghost", 1)), "INVALID_PRODUCTS"},
		{"duplicate product", alice, place("co-1", item("p", 1), item("p", 1)), "INVALID_PRODUCTS"},
		{"two companies", alice, place("co-1", item("p", 1), item("r", 1)), "MIXED_COMPANIES"},
		{"wrong company", alice, place("co-2", item("p", 1)), "MIXED_COMPANIES"},
		{"first short line wins", alice, place("co-1", item("q", 1), item("p", 6)), "OUT_OF_STOCK:P"},
		{"zero quantity", alice, place("co-1", item("p", 0)), "INVALID_REQUEST"},
		{"no items", alice, place("co-1"), "INVALID_REQUEST"},
		{"no company", alice, place("", item("p", 1)), "INVALID_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, sink := newTestService(t)
			_, err := svc.Place(context.Background(), tc.rc, tc.req)
			var oe *Error
			require.True(t, errors.As(err, &oe), "got %v", err)
			assert.Equal(t, tc.want, oe.Wire())
			assert.Equal(t, 0, store.OrderCount())
			assert.Equal(t, 5, stock(t, store, "p"))
			assert.Equal(t, 100, stock(t, store, "q"))
			assert.Equal(t, 0, sink.count())
		})
	}
}

func TestPlace_RequiresCustomer(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Place(context.Background(), acme, place("co-1", item("p", 1)))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestPlace_ConcurrentNeverOversells(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	const buyers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		soldOut   int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Place(ctx, alice, place("co-1", item("p", 1)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case IsCode(err, CodeOutOfStock):
				soldOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, buyers-5, soldOut)
	assert.Equal(t, 0, stock(t, store, "p"))
	assert.Equal(t, 5, store.OrderCount())
}

func TestTotalsUseSnapshottedPrice(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Place(ctx, alice, place("co-1", item("p", 3)))
	require.NoError(t, err)

	p, _ := store.Product("p")
	p.Price = dec("99.99")
	store.PutProduct(p)

	list, err := svc.ListByCustomer(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "30.00", list[0].Total.StringFixed(2))
}

func TestListsAreNewestFirst(t *testing.T) {
	svc, _, _ := newTestService(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return fixed }
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := svc.Place(ctx, alice, place("co-1", item("q", 1)))
		require.NoError(t, err)
		ids = append(ids, res.OrderID)
	}
	_, err := svc.Place(ctx, bob, place("co-1", item("q", 1)))
	require.NoError(t, err)
	_, err = svc.Place(ctx, bob, place("co-2", item("r", 1)))
	require.NoError(t, err)

	mine, err := svc.ListByCustomer(ctx, alice)
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{mine[0].ID, mine[1].ID, mine[2].ID})
	for i := 1; i < len(mine); i++ {
		assert.True(t, mine[i-1].CreatedAt.After(mine[i].CreatedAt))
	}

	received, err := svc.ListByCompany(ctx, acme)
	require.NoError(t, err)
	assert.Len(t, received, 4)

	received, err = svc.ListByCompany(ctx, globex)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "7.00", received[0].Total.StringFixed(2))
	assert.Equal(t, "New", received[0].Status)

	_, err = svc.ListByCustomer(ctx, acme)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.ListByCompany(ctx, alice)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateStatus_Lifecycle(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()
	res, err := svc.Place(ctx, alice, place("co-1", item("p", 1)))
	require.NoError(t, err)

	o, err := svc.UpdateStatus(ctx, acme, res.OrderID, StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, o.Status)
	assert.Equal(t, "alice", o.CustomerID)

	topic, env := sink.last()
	assert.Equal(t, TopicOrderStatusChanged, topic)
	var changed OrderStatusChangedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &changed))
	assert.Equal(t, StatusNew, changed.From)
	assert.Equal(t, StatusShipped, changed.To)

	_, err = svc.UpdateStatus(ctx, acme, res.OrderID, StatusCanceled)
	assert.True(t, IsCode(err, CodeInvalidTransition))

	o, err = svc.UpdateStatus(ctx, acme, res.OrderID, StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, o.Status)

	for _, target := range []Status{StatusNew, StatusShipped, StatusCanceled, StatusDelivered} {
		_, err = svc.UpdateStatus(ctx, acme, res.OrderID, target)
		assert.True(t, IsCode(err, CodeInvalidTransition), "Delivered -> %s", target)
	}
}

func TestUpdateStatus_Rejections(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	res, err := svc.Place(ctx, alice, place("co-1", item("p", 1)))
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, globex, res.OrderID, StatusShipped)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.UpdateStatus(ctx, acme, "missing", StatusShipped)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.UpdateStatus(ctx, alice, res.OrderID, StatusShipped)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.UpdateStatus(ctx, nobody, res.OrderID, StatusShipped)
	assert.ErrorIs(t, err, ErrNoCompany)

	_, err = svc.UpdateStatus(ctx, acme, res.OrderID, StatusNew)
	assert.True(t, IsCode(err, CodeInvalidTransition))

	_, err = svc.UpdateStatus(ctx, acme, res.OrderID, Status(""))
	assert.True(t, IsCode(err, CodeInvalidTransition))

	o, err := store.OrderByID(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusNew, o.Status)
}

func TestUpdateStatus_ResolvesCompanyByOwner(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	res, err := svc.Place(ctx, alice, place("co-1", item("p", 1)))
	require.NoError(t, err)

	owner := RequestContext{UserID: "owner-1", Role: RoleCompany}
	o, err := svc.UpdateStatus(ctx, owner, res.OrderID, StatusCanceled)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, o.Status)

	other := RequestContext{UserID: "owner-2", Role: RoleCompany}
	_, err = svc.UpdateStatus(ctx, other, res.OrderID, StatusShipped)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestGet_VisibleToBothParties(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	res, err := svc.Place(ctx, alice, place("co-1", item("p", 2), item("q", 4)))
	require.NoError(t, err)

	o, err := svc.Get(ctx, alice, res.OrderID)
	require.NoError(t, err)
	assert.Len(t, o.Items, 2)
	assert.Equal(t, "30.00", o.Total().StringFixed(2))

	_, err = svc.Get(ctx, acme, res.OrderID)
	require.NoError(t, err)

	_, err = svc.Get(ctx, bob, res.OrderID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Get(ctx, globex, res.OrderID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Get(ctx, alice, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, svc.CanRead(ctx, acme, "alice", "co-1"))
	assert.ErrorIs(t, svc.CanRead(ctx, bob, "alice", "co-1"), ErrForbidden)
}

func TestValidatePlacement(t *testing.T) {
	products := []Product{
		{ID: "a", CompanyID: "c", Name: "A", Price: p10, Stock: 2},
		{ID: "b", CompanyID: "c", Name: "B", Price: p2, Stock: 0},
	}
	assert.NoError(t, ValidatePlacement(place("c", item("a", 2)), products[:1]))

	err := ValidatePlacement(place("c", item("a", 1), item("b", 1)), products)
	var oe *Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, CodeOutOfStock, oe.Code)
	assert.Equal(t, "B", oe.ProductName)

	assert.True(t, IsCode(ValidatePlacement(place("c"), nil), CodeInvalidRequest))
	assert.True(t, IsCode(ValidatePlacement(place("c", item("z", 1)), products[:1]), CodeInvalidProducts))
}
