package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-orders/internal/logging"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

// Error is the JSON error envelope returned by the API.
type Error struct {
	Code    string
	Message string
	Status  int
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	payload := map[string]any{
		"error":   e.Code,
		"message": e.Message,
		"status":  e.Status,
	}
	if id := middleware.GetReqID(ctx); id != "" {
		payload["request_id"] = id
	}
	writeJSON(w, e.Status, payload)
}

// toError maps a service error onto the envelope. Infrastructure failures are
// logged and reported without detail.
func toError(ctx context.Context, err error) Error {
	var oe *orders.Error
	switch {
	case errors.As(err, &oe):
		return Error{Code: oe.Wire(), Message: oe.Message, Status: http.StatusBadRequest}
	case errors.Is(err, orders.ErrNotFound):
		return Error{Code: "not_found", Message: "order not found", Status: http.StatusNotFound}
	case errors.Is(err, orders.ErrNoCompany):
		return Error{Code: "forbidden", Message: "no company is associated with this user", Status: http.StatusForbidden}
	case errors.Is(err, orders.ErrForbidden):
		return Error{Code: "forbidden", Message: "not allowed to act on this order", Status: http.StatusForbidden}
	default:
		logging.FromContext(ctx).Error("request failed", zap.Error(err))
		return Error{Code: "internal_error", Message: "internal server error", Status: http.StatusInternalServerError}
	}
}

func respondErr(ctx context.Context, w http.ResponseWriter, err error) {
	writeError(ctx, w, toError(ctx, err))
}
