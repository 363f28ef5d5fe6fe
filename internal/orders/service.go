package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-orders/internal/logging"
)

var tracer = otel.Tracer("github.com/ariefcatur/marketplace-orders/internal/orders")

// Service runs order placement, status transitions and the order read views.
// Events is optional; when set, events are emitted after each commit.
type Service struct {
	Store       Store
	Events      EventSink
	ServiceName string
	Now         func() time.Time

	mu       sync.Mutex
	lastTime time.Time
}

// Place validates req against the current catalog and commits a new order.
func (s *Service) Place(ctx context.Context, rc RequestContext, req PlaceOrderRequest) (Placement, error) {
	const op = "orders.Place"
	ctx, span := tracer.Start(ctx, "orders.place", trace.WithAttributes(
		attribute.String("order.company_id", req.CompanyID),
		attribute.Int("order.lines", len(req.Items)),
	))
	defer span.End()

	if rc.UserID == "" || rc.Role != RoleCustomer {
		return Placement{}, fail(span, ErrForbidden)
	}
	if err := checkRequest(op, req); err != nil {
		return Placement{}, fail(span, err)
	}

	products, err := s.Store.ProductsByIDs(ctx, uniqueProductIDs(req.Items))
	if err != nil {
		return Placement{}, fail(span, fmt.Errorf("%s: load products: %w", op, err))
	}
	if err := ValidatePlacement(req, products); err != nil {
		return Placement{}, fail(span, err)
	}

	order := Order{
		ID:         uuid.NewString(),
		CustomerID: rc.UserID,
		CompanyID:  req.CompanyID,
		Status:     StatusNew,
		CreatedAt:  s.stamp(),
	}
	placed, err := s.Store.PlaceOrder(ctx, order, req.Items)
	if err != nil {
		var oe *Error
		if errors.As(err, &oe) {
			return Placement{}, fail(span, err)
		}
		return Placement{}, fail(span, fmt.Errorf("%s: commit: %w", op, err))
	}

	span.SetAttributes(attribute.String("order.id", placed.ID))
	logging.FromContext(ctx).Info("order placed",
		zap.String("order_id", placed.ID),
		zap.String("customer_id", placed.CustomerID),
		zap.String("company_id", placed.CompanyID),
		zap.Int("lines", len(placed.Items)),
		zap.String("total", placed.Total().StringFixed(2)),
	)
	s.emit(ctx, TopicOrderPlaced, EventOrderPlaced, placed.ID, placedPayload(placed))

	return Placement{
		OrderID:   placed.ID,
		Status:    placed.Status,
		CreatedAt: placed.CreatedAt,
		Total:     Money{placed.Total()},
	}, nil
}

// ValidatePlacement checks req against a snapshot of the referenced products:
// every id resolves, all products belong to req.CompanyID and every line fits
// in the current stock. The first failing line wins.
func ValidatePlacement(req PlaceOrderRequest, products []Product) error {
	const op = "orders.Place"
	if len(req.Items) == 0 {
		return newError(op, CodeInvalidRequest, "at least one item is required")
	}
	if len(products) != len(req.Items) {
		return newError(op, CodeInvalidProducts, "one or more products do not exist")
	}
	byID := make(map[string]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for _, it := range req.Items {
		if _, ok := byID[it.ProductID]; !ok {
			return newError(op, CodeInvalidProducts, "one or more products do not exist")
		}
	}

	companyID := products[0].CompanyID
	for _, p := range products {
		if p.CompanyID != companyID {
			return newError(op, CodeMixedCompanies, "products belong to different companies")
		}
	}
	if req.CompanyID != companyID {
		return newError(op, CodeMixedCompanies, "products do not belong to the requested company")
	}

	for _, it := range req.Items {
		if p := byID[it.ProductID]; p.Stock < it.Quantity {
			return outOfStock(op, p.Name)
		}
	}
	return nil
}

func checkRequest(op string, req PlaceOrderRequest) error {
	if req.CompanyID == "" {
		return newError(op, CodeInvalidRequest, "companyId is required")
	}
	if len(req.Items) == 0 {
		return newError(op, CodeInvalidRequest, "at least one item is required")
	}
	for _, it := range req.Items {
		if it.ProductID == "" {
			return newError(op, CodeInvalidRequest, "productId is required")
		}
		if it.Quantity <= 0 {
			return newError(op, CodeInvalidRequest, "quantity must be positive")
		}
	}
	return nil
}

func uniqueProductIDs(items []ItemInput) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}

// UpdateStatus moves an order owned by the caller's company to target.
// Ownership and the transition are checked against the locked row.
// The updated order (without items) is returned for cache maintenance.
func (s *Service) UpdateStatus(ctx context.Context, rc RequestContext, orderID string, target Status) (Order, error) {
	const op = "orders.UpdateStatus"
	ctx, span := tracer.Start(ctx, "orders.update_status", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.target_status", target.String()),
	))
	defer span.End()

	companyID, err := s.actingCompany(ctx, rc)
	if err != nil {
		return Order{}, fail(span, err)
	}

	var from Status
	updated, err := s.Store.UpdateStatus(ctx, orderID, func(o Order) (Status, error) {
		if o.CompanyID != companyID {
			return "", ErrForbidden
		}
		if !CanTransition(o.Status, target) {
			return "", newError(op, CodeInvalidTransition, fmt.Sprintf("cannot move order from %s to %s", o.Status, target))
		}
		from = o.Status
		return target, nil
	})
	if err != nil {
		var oe *Error
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) || errors.As(err, &oe) {
			return Order{}, fail(span, err)
		}
		return Order{}, fail(span, fmt.Errorf("%s: %w", op, err))
	}

	logging.FromContext(ctx).Info("order status changed",
		zap.String("order_id", updated.ID),
		zap.String("company_id", companyID),
		zap.String("from", from.String()),
		zap.String("to", updated.Status.String()),
	)
	s.emit(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, updated.ID, OrderStatusChangedPayload{
		OrderID:    updated.ID,
		CustomerID: updated.CustomerID,
		CompanyID:  updated.CompanyID,
		From:       from,
		To:         updated.Status,
		ChangedAt:  s.now().UTC(),
	})
	return updated, nil
}

// ListByCustomer returns the caller's own orders, newest first.
func (s *Service) ListByCustomer(ctx context.Context, rc RequestContext) ([]Summary, error) {
	if rc.UserID == "" || rc.Role != RoleCustomer {
		return nil, ErrForbidden
	}
	list, err := s.Store.OrdersByCustomer(ctx, rc.UserID)
	if err != nil {
		return nil, fmt.Errorf("orders.ListByCustomer: %w", err)
	}
	return summarize(list), nil
}

// ListByCompany returns the orders received by the caller's company, newest first.
func (s *Service) ListByCompany(ctx context.Context, rc RequestContext) ([]Summary, error) {
	companyID, err := s.actingCompany(ctx, rc)
	if err != nil {
		return nil, err
	}
	list, err := s.Store.OrdersByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("orders.ListByCompany: %w", err)
	}
	return summarize(list), nil
}

// Get returns one order with its items to the customer who placed it or the company fulfilling it.
func (s *Service) Get(ctx context.Context, rc RequestContext, orderID string) (Order, error) {
	o, err := s.Store.OrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Order{}, err
		}
		return Order{}, fmt.Errorf("orders.Get: %w", err)
	}
	if err := s.authorizeRead(ctx, rc, o); err != nil {
		return Order{}, err
	}
	return o, nil
}

// CanRead reports whether rc may see an order with the given parties.
func (s *Service) CanRead(ctx context.Context, rc RequestContext, customerID, companyID string) error {
	return s.authorizeRead(ctx, rc, Order{CustomerID: customerID, CompanyID: companyID})
}

func (s *Service) authorizeRead(ctx context.Context, rc RequestContext, o Order) error {
	switch rc.Role {
	case RoleCustomer:
		if rc.UserID != "" && o.CustomerID == rc.UserID {
			return nil
		}
	case RoleCompany:
		companyID, err := s.actingCompany(ctx, rc)
		if err != nil {
			return err
		}
		if o.CompanyID == companyID {
			return nil
		}
	}
	return ErrForbidden
}

// ResolveCompany returns the company the caller acts for: the token claim
// when present, otherwise the company owned by the user.
func (s *Service) ResolveCompany(ctx context.Context, rc RequestContext) (string, error) {
	return s.actingCompany(ctx, rc)
}

func (s *Service) actingCompany(ctx context.Context, rc RequestContext) (string, error) {
	if rc.Role != RoleCompany {
		return "", ErrForbidden
	}
	if rc.CompanyID != "" {
		return rc.CompanyID, nil
	}
	c, err := s.Store.CompanyByOwner(ctx, rc.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNoCompany
		}
		return "", fmt.Errorf("resolve company: %w", err)
	}
	return c.ID, nil
}

func summarize(list []Order) []Summary {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
	out := make([]Summary, 0, len(list))
	for _, o := range list {
		out = append(out, o.Summary())
	}
	return out
}

func (s *Service) emit(ctx context.Context, topic, eventType, orderID string, payload any) {
	if s.Events == nil {
		return
	}
	log := logging.FromContext(ctx)
	env, err := NewEnvelope(eventType, s.ServiceName, orderID, s.now(), payload)
	if err != nil {
		log.Warn("build event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	if err := s.Events.Emit(ctx, topic, env); err != nil {
		log.Warn("emit event", zap.String("event_type", eventType), zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// stamp returns a strictly increasing creation time at microsecond precision.
func (s *Service) stamp() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !t.After(s.lastTime) {
		t = s.lastTime.Add(time.Microsecond)
	}
	s.lastTime = t
	return t
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
