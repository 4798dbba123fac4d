package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"shopcore/internal/metrics"
	"shopcore/internal/redisx"
	"shopcore/internal/shop"
)

type OrderStore interface {
	Checkout(ctx context.Context, userID, userEmail, shippingAddress, couponCode string) (shop.Order, error)
	UpdateStatus(ctx context.Context, orderID string, next shop.Status) (shop.Order, error)
	GetOrder(ctx context.Context, orderID string) (shop.Order, error)
	ListOrders(ctx context.Context, userID string, all bool) ([]shop.Order, error)
}

type OrderHandler struct {
	Store   OrderStore
	Redis   *redis.Client
	Metrics *metrics.ServerMetrics
}

type createOrderReq struct {
	ShippingAddress string `json:"shipping_address"`
	CouponCode      string `json:"coupon_code"`
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *OrderHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/update-status", h.updateStatus)
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ShippingAddress == "" {
		req.ShippingAddress = claims.Address
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Store.Checkout(ctx, claims.UserID, claims.Email, req.ShippingAddress, req.CouponCode)
	if err != nil {
		h.countCheckout(checkoutOutcome(err))
		writeError(w, err)
		return
	}
	h.countCheckout("success")

	// Stock changed; drop the stale catalog cache entries.
	if h.Redis != nil {
		keys := []string{redisx.KeyProductList}
		for _, it := range order.Items {
			if it.ProductID != nil {
				keys = append(keys, fmt.Sprintf(redisx.KeyProduct, *it.ProductID))
			}
		}
		_ = h.Redis.Del(ctx, keys...).Err()
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"order":   order,
		"message": "order placed, confirmation email queued",
	})
}

func checkoutOutcome(err error) string {
	var stockErr *shop.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.Is(err, shop.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, shop.ErrCouponNotValid):
		return "coupon_rejected"
	case errors.Is(err, shop.ErrCartNotFound):
		return "no_cart"
	default:
		return "error"
	}
}

func (h *OrderHandler) countCheckout(outcome string) {
	if h.Metrics != nil {
		h.Metrics.Checkouts.WithLabelValues(outcome).Inc()
	}
}

func (h *OrderHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	orders, err := h.Store.ListOrders(ctx, claims.UserID, claims.IsAdmin())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	order, err := h.Store.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	// Non-admins only ever see their own orders.
	if !claims.IsAdmin() && order.UserID != claims.UserID {
		writeError(w, shop.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	if !claims.IsAdmin() {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only administrators can update order status"})
		return
	}

	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	next, err := shop.ParseStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Store.UpdateStatus(ctx, chi.URLParam(r, "id"), next)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
