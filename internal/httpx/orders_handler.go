package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-orders/internal/auth"
	"github.com/ariefcatur/marketplace-orders/internal/logging"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
)

// OrderCache is the optional read-side cache; see redisx.OrderCache.
type OrderCache interface {
	Summaries(ctx context.Context, scope, id string) ([]orders.Summary, int64, bool, error)
	PutSummaries(ctx context.Context, scope, id string, version int64, list []orders.Summary) (bool, error)
	InvalidateSummaries(ctx context.Context, customerID, companyID string) error
	Status(ctx context.Context, orderID string) (redisx.StatusEntry, bool, error)
	AdvanceStatus(ctx context.Context, e redisx.StatusEntry) (bool, error)
}

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

type OrdersHandler struct {
	Service *orders.Service
	Auth    *auth.Verifier
	Cache   OrderCache
	Timeout time.Duration
}

type UpdateStatusReq struct {
	Status string `json:"status"`
}

type OrderItemResp struct {
	ID        string       `json:"id"`
	ProductID string       `json:"productId"`
	Quantity  int          `json:"quantity"`
	UnitPrice orders.Money `json:"unitPrice"`
}

type OrderResp struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customerId"`
	CompanyID  string          `json:"companyId"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	Total      orders.Money    `json:"total"`
	Items      []OrderItemResp `json:"items"`
}

type StatusResp struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	customer := auth.RequireRole(orders.RoleCustomer)
	company := auth.RequireRole(orders.RoleCompany)
	either := auth.RequireRole(orders.RoleCustomer, orders.RoleCompany)

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(h.Auth.Authenticate)
		r.With(customer).Post("/", h.placeOrder)
		r.With(customer).Get("/mine", h.mine)
		r.With(company).Get("/received", h.received)
		r.With(either).Get("/{id}", h.getOrder)
		r.With(either).Get("/{id}/status", h.getStatus)
		r.With(company).Patch("/{id}/status", h.updateStatus)
	})
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.PlaceOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rc, _ := auth.FromContext(r.Context())

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	res, err := h.Service.Place(ctx, rc, req)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}

	h.forgetSummaries(ctx, rc.UserID, req.CompanyID)
	h.putStatus(ctx, redisx.StatusEntry{
		OrderID:    res.OrderID,
		Status:     res.Status,
		CustomerID: rc.UserID,
		CompanyID:  req.CompanyID,
		UpdatedAt:  res.CreatedAt,
	})

	writeJSON(w, http.StatusCreated, res)
}

func (h *OrdersHandler) mine(w http.ResponseWriter, r *http.Request) {
	rc, _ := auth.FromContext(r.Context())
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	h.summaries(ctx, w, redisx.ScopeCustomer, rc.UserID, func() ([]orders.Summary, error) {
		return h.Service.ListByCustomer(ctx, rc)
	})
}

func (h *OrdersHandler) received(w http.ResponseWriter, r *http.Request) {
	rc, _ := auth.FromContext(r.Context())
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	companyID, err := h.Service.ResolveCompany(ctx, rc)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	rc.CompanyID = companyID
	h.summaries(ctx, w, redisx.ScopeCompany, companyID, func() ([]orders.Summary, error) {
		return h.Service.ListByCompany(ctx, rc)
	})
}

// summaries serves a list read-through the cache. Cache errors only cost a database read.
// The list is written back only if no invalidation happened since the miss.
func (h *OrdersHandler) summaries(ctx context.Context, w http.ResponseWriter, scope, id string, load func() ([]orders.Summary, error)) {
	log := logging.FromContext(ctx)
	var (
		version int64
		missed  bool
	)
	if h.Cache != nil {
		list, v, ok, err := h.Cache.Summaries(ctx, scope, id)
		version, missed = v, err == nil
		if err != nil {
			log.Warn("summary cache read", zap.String("scope", scope), zap.Error(err))
		} else if ok {
			writeJSON(w, http.StatusOK, list)
			return
		}
	}

	list, err := load()
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	if list == nil {
		list = []orders.Summary{}
	}
	if missed {
		written, err := h.Cache.PutSummaries(ctx, scope, id, version, list)
		if err != nil {
			log.Warn("summary cache write", zap.String("scope", scope), zap.Error(err))
		} else if !written {
			log.Debug("summary cache write skipped; invalidated meanwhile", zap.String("scope", scope))
		}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	rc, _ := auth.FromContext(r.Context())
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	o, err := h.Service.Get(ctx, rc, chi.URLParam(r, "id"))
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	rc, _ := auth.FromContext(r.Context())
	orderID := chi.URLParam(r, "id")
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	// 1) cache
	if h.Cache != nil {
		e, ok, err := h.Cache.Status(ctx, orderID)
		if err != nil {
			logging.FromContext(ctx).Warn("status cache read", zap.String("order_id", orderID), zap.Error(err))
		} else if ok {
			if err := h.Service.CanRead(ctx, rc, e.CustomerID, e.CompanyID); err != nil {
				respondErr(ctx, w, err)
				return
			}
			writeJSON(w, http.StatusOK, StatusResp{OrderID: orderID, Status: e.Status.String()})
			return
		}
	}

	// 2) database
	o, err := h.Service.Get(ctx, rc, orderID)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	h.putStatus(ctx, redisx.StatusEntry{
		OrderID:    o.ID,
		Status:     o.Status,
		CustomerID: o.CustomerID,
		CompanyID:  o.CompanyID,
		UpdatedAt:  time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, StatusResp{OrderID: o.ID, Status: o.Status.String()})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusReq
	if !decodeBody(w, r, &req) {
		return
	}
	// Unknown names can never be a legal target.
	target, _ := orders.ParseStatus(req.Status)
	rc, _ := auth.FromContext(r.Context())

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	o, err := h.Service.UpdateStatus(ctx, rc, chi.URLParam(r, "id"), target)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}

	h.forgetSummaries(ctx, o.CustomerID, o.CompanyID)
	h.putStatus(ctx, redisx.StatusEntry{
		OrderID:    o.ID,
		Status:     o.Status,
		CustomerID: o.CustomerID,
		CompanyID:  o.CompanyID,
		UpdatedAt:  time.Now().UTC(),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) forgetSummaries(ctx context.Context, customerID, companyID string) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.InvalidateSummaries(ctx, customerID, companyID); err != nil {
		logging.FromContext(ctx).Warn("summary cache invalidate", zap.Error(err))
	}
}

func (h *OrdersHandler) putStatus(ctx context.Context, e redisx.StatusEntry) {
	if h.Cache == nil {
		return
	}
	if _, err := h.Cache.AdvanceStatus(ctx, e); err != nil {
		logging.FromContext(ctx).Warn("status cache write", zap.String("order_id", e.OrderID), zap.Error(err))
	}
}

func (h *OrdersHandler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

func toOrderResp(o orders.Order) OrderResp {
	items := make([]OrderItemResp, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResp{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: orders.Money{Decimal: it.UnitPrice},
		})
	}
	return OrderResp{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		CompanyID:  o.CompanyID,
		Status:     o.Status.String(),
		CreatedAt:  o.CreatedAt,
		Total:      orders.Money{Decimal: o.Total()},
		Items:      items,
	}
}

// decodeBody reads a size-capped JSON body into v and answers the request on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(r.Context(), w, Error{Code: "payload_too_large", Message: "request body too large", Status: http.StatusRequestEntityTooLarge})
		return false
	}
	writeError(r.Context(), w, Error{Code: string(orders.CodeInvalidRequest), Message: "invalid request body", Status: http.StatusBadRequest})
	return false
}
