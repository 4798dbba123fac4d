package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"shopcore/internal/redisx"
	"shopcore/internal/shop"
)

type CatalogStore interface {
	ListProducts(ctx context.Context) ([]shop.Product, error)
	GetProduct(ctx context.Context, id string) (shop.Product, error)
}

// CatalogHandler serves product reads through a Redis side-cache. The
// cache is never consulted by checkout; it only shortens listing reads.
type CatalogHandler struct {
	Store CatalogStore
	Redis *redis.Client
}

func (h *CatalogHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
}

func (h *CatalogHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, redisx.KeyProductList).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	ps, err := h.Store.ListProducts(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	b, _ := json.Marshal(ps)
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, redisx.KeyProductList, b, redisx.TTLProductCache).Err()
	}
	writeJSON(w, http.StatusOK, json.RawMessage(b))
}

func (h *CatalogHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyProduct, id)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	p, err := h.Store.GetProduct(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	b, _ := json.Marshal(p)
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, key, b, redisx.TTLProductCache).Err()
	}
	writeJSON(w, http.StatusOK, json.RawMessage(b))
}
