package httpx

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"shopcore/internal/shop"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto the HTTP contract: absent resources
// are 404, business-rule failures are 400, everything else is a generic
// retryable 500.
func writeError(w http.ResponseWriter, err error) {
	var stockErr *shop.InsufficientStockError
	switch {
	case errors.Is(err, shop.ErrProductNotFound),
		errors.Is(err, shop.ErrCartNotFound),
		errors.Is(err, shop.ErrCartItemNotFound),
		errors.Is(err, shop.ErrOrderNotFound),
		errors.Is(err, shop.ErrCouponNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &stockErr),
		errors.Is(err, shop.ErrEmptyCart),
		errors.Is(err, shop.ErrInvalidStatus),
		errors.Is(err, shop.ErrInvalidTransition),
		errors.Is(err, shop.ErrCouponNotValid):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		log.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error, retry later"})
	}
}
