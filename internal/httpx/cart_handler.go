package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"shopcore/internal/shop"
)

type CartStore interface {
	GetOrCreateCart(ctx context.Context, userID string) (shop.Cart, error)
	AddCartItem(ctx context.Context, userID, productID string, qty int) (shop.Cart, error)
	RemoveCartItem(ctx context.Context, userID, productID string, qty int) (shop.Cart, error)
	ClearCart(ctx context.Context, userID string) (shop.Cart, error)
}

type CartHandler struct {
	Store CartStore
}

type cartItemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type cartResp struct {
	shop.Cart
	Total decimal.Decimal `json:"total"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Get("/cart", h.getCart)
	r.Post("/cart/add-item", h.addItem)
	r.Post("/cart/remove-item", h.removeItem)
	r.Post("/cart/clear", h.clear)
}

func (h *CartHandler) getCart(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	cart, err := h.Store.GetOrCreateCart(ctx, claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResp{Cart: cart, Total: cart.Total()})
}

func (h *CartHandler) addItem(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	var req cartItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.ProductID == "" || req.Quantity < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "product_id and a positive quantity are required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cart, err := h.Store.AddCartItem(ctx, claims.UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResp{Cart: cart, Total: cart.Total()})
}

func (h *CartHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	var req cartItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ProductID == "" || req.Quantity < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "product_id is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cart, err := h.Store.RemoveCartItem(ctx, claims.UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResp{Cart: cart, Total: cart.Total()})
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cart, err := h.Store.ClearCart(ctx, claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResp{Cart: cart, Total: cart.Total()})
}
