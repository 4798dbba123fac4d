package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"shopcore/internal/shop"
)

type CouponStore interface {
	GetCoupon(ctx context.Context, code string) (shop.Coupon, error)
	GetCart(ctx context.Context, userID string) (shop.Cart, error)
	HasDeliveredOrder(ctx context.Context, userID string) (bool, error)
}

type CouponHandler struct {
	Store CouponStore
}

type validateCouponReq struct {
	Code string `json:"code"`
}

func (h *CouponHandler) Register(r chi.Router) {
	r.Post("/coupons/validate", h.validate)
}

func (h *CouponHandler) validate(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	var req validateCouponReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "coupon code is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	coupon, err := h.Store.GetCoupon(ctx, req.Code)
	if errors.Is(err, shop.ErrCouponNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"valid": false, "message": "invalid coupon code"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	cart, err := h.Store.GetCart(ctx, claims.UserID)
	if errors.Is(err, shop.ErrCartNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"valid": false, "message": "cart not found"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	hasDelivered := false
	if coupon.FirstTimeUsersOnly {
		if hasDelivered, err = h.Store.HasDeliveredOrder(ctx, claims.UserID); err != nil {
			writeError(w, err)
			return
		}
	}

	total := cart.Total()
	res := shop.EvaluateCoupon(coupon, total, hasDelivered, time.Now())
	if !res.Applicable {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "message": res.Reason})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":                     true,
		"coupon":                    coupon,
		"cart_total":                total,
		"discount_amount":           res.DiscountAmount,
		"cart_total_after_discount": res.TotalAfterDiscount,
	})
}
