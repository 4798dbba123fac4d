package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopcore/internal/shop"
)

var testSecret = []byte("test-secret")

// fakeStore implements the handler store interfaces with the same
// contract as the pgx repo: check-then-decrement runs under one lock, so
// concurrent checkouts serialize exactly as the row locks serialize them
// in Postgres.
type fakeStore struct {
	mu        sync.Mutex
	products  map[string]*shop.Product
	carts     map[string]map[string]int // user -> product -> qty
	orders    map[string]*shop.Order
	coupons   map[string]*shop.Coupon
	delivered map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:  map[string]*shop.Product{},
		carts:     map[string]map[string]int{},
		orders:    map[string]*shop.Order{},
		coupons:   map[string]*shop.Coupon{},
		delivered: map[string]bool{},
	}
}

func (f *fakeStore) seedProduct(id, title, price string, stock int) {
	now := time.Now()
	f.products[id] = &shop.Product{
		ID: id, Title: title, Slug: id, Price: decimal.RequireFromString(price),
		Stock: stock, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
}

func (f *fakeStore) seedCartLine(userID, productID string, qty int) {
	if f.carts[userID] == nil {
		f.carts[userID] = map[string]int{}
	}
	f.carts[userID][productID] = qty
}

func (f *fakeStore) buildCart(userID string) shop.Cart {
	c := shop.Cart{ID: 1, UserID: userID}
	lines := f.carts[userID]
	ids := make([]string, 0, len(lines))
	for id := range lines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c.Items = append(c.Items, shop.CartItem{ProductID: id, Quantity: lines[id], Product: *f.products[id]})
	}
	return c
}

func (f *fakeStore) ListProducts(ctx context.Context) ([]shop.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []shop.Product
	for _, p := range f.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (f *fakeStore) GetProduct(ctx context.Context, id string) (shop.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return shop.Product{}, shop.ErrProductNotFound
	}
	return *p, nil
}

func (f *fakeStore) GetOrCreateCart(ctx context.Context, userID string) (shop.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.carts[userID] == nil {
		f.carts[userID] = map[string]int{}
	}
	return f.buildCart(userID), nil
}

func (f *fakeStore) GetCart(ctx context.Context, userID string) (shop.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.carts[userID] == nil {
		return shop.Cart{}, shop.ErrCartNotFound
	}
	return f.buildCart(userID), nil
}

func (f *fakeStore) AddCartItem(ctx context.Context, userID, productID string, qty int) (shop.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return shop.Cart{}, shop.ErrProductNotFound
	}
	if p.Stock < qty {
		return shop.Cart{}, &shop.InsufficientStockError{
			ProductID: p.ID, ProductTitle: p.Title, Requested: qty, Available: p.Stock,
		}
	}
	if f.carts[userID] == nil {
		f.carts[userID] = map[string]int{}
	}
	f.carts[userID][productID] += qty
	return f.buildCart(userID), nil
}

func (f *fakeStore) RemoveCartItem(ctx context.Context, userID, productID string, qty int) (shop.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.carts[userID] == nil {
		return shop.Cart{}, shop.ErrCartNotFound
	}
	current, ok := f.carts[userID][productID]
	if !ok {
		return shop.Cart{}, shop.ErrCartItemNotFound
	}
	if qty > 0 && qty < current {
		f.carts[userID][productID] = current - qty
	} else {
		delete(f.carts[userID], productID)
	}
	return f.buildCart(userID), nil
}

func (f *fakeStore) ClearCart(ctx context.Context, userID string) (shop.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.carts[userID] == nil {
		return shop.Cart{}, shop.ErrCartNotFound
	}
	f.carts[userID] = map[string]int{}
	return f.buildCart(userID), nil
}

func (f *fakeStore) GetCoupon(ctx context.Context, code string) (shop.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[code]
	if !ok {
		return shop.Coupon{}, shop.ErrCouponNotFound
	}
	return *c, nil
}

func (f *fakeStore) HasDeliveredOrder(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivered[userID], nil
}

func (f *fakeStore) Checkout(ctx context.Context, userID, userEmail, shippingAddress, couponCode string) (shop.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines := f.carts[userID]
	if lines == nil {
		return shop.Order{}, shop.ErrCartNotFound
	}
	if len(lines) == 0 {
		return shop.Order{}, shop.ErrEmptyCart
	}

	ids := make([]string, 0, len(lines))
	for id := range lines {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := decimal.Zero
	for _, id := range ids {
		p := f.products[id]
		if p == nil {
			return shop.Order{}, shop.ErrProductNotFound
		}
		if p.Stock < lines[id] {
			return shop.Order{}, &shop.InsufficientStockError{
				ProductID: p.ID, ProductTitle: p.Title, Requested: lines[id], Available: p.Stock,
			}
		}
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(lines[id]))))
	}

	if couponCode != "" {
		c, ok := f.coupons[couponCode]
		if !ok {
			return shop.Order{}, shop.ErrCouponNotFound
		}
		res := shop.EvaluateCoupon(*c, total, f.delivered[userID], time.Now())
		if !res.Applicable {
			return shop.Order{}, fmt.Errorf("%w: %s", shop.ErrCouponNotValid, res.Reason)
		}
		c.UsageCount++
		total = res.TotalAfterDiscount
	}

	now := time.Now()
	o := &shop.Order{
		ID: uuid.NewString(), UserID: userID, UserEmail: userEmail,
		Status: shop.StatusPending, TotalAmount: total,
		ShippingAddress: shippingAddress, TrackingNumber: shop.NewTrackingNumber(),
		CreatedAt: now, UpdatedAt: now,
	}
	for _, id := range ids {
		p := f.products[id]
		pid := p.ID
		o.Items = append(o.Items, shop.OrderItem{
			ID: int64(len(o.Items) + 1), ProductID: &pid,
			ProductName: p.Title, ProductPrice: p.Price, Quantity: lines[id],
		})
		p.Stock -= lines[id]
	}
	f.carts[userID] = map[string]int{}
	f.orders[o.ID] = o
	return *o, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, orderID string, next shop.Status) (shop.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return shop.Order{}, shop.ErrOrderNotFound
	}
	if !shop.CanTransition(o.Status, next) {
		return shop.Order{}, fmt.Errorf("%w: %s -> %s", shop.ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = time.Now()
	return *o, nil
}

func (f *fakeStore) GetOrder(ctx context.Context, orderID string) (shop.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return shop.Order{}, shop.ErrOrderNotFound
	}
	return *o, nil
}

func (f *fakeStore) ListOrders(ctx context.Context, userID string, all bool) ([]shop.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []shop.Order
	for _, o := range f.orders {
		if all || o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T, store *fakeStore) *httptest.Server {
	t.Helper()
	r := NewRouter(nil)
	(&CatalogHandler{Store: store}).Register(r)
	r.Group(func(pr chi.Router) {
		pr.Use(Authenticator(testSecret))
		(&CartHandler{Store: store}).Register(pr)
		(&OrderHandler{Store: store}).Register(pr)
		(&CouponHandler{Store: store}).Register(pr)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func authToken(t *testing.T, userID, role string) string {
	t.Helper()
	claims := &Claims{UserID: userID, Email: userID + "@example.com", Role: role, Address: "12 Main St"}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return s
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func jsonDecimal(t *testing.T, v any) decimal.Decimal {
	t.Helper()
	s, ok := v.(string)
	require.True(t, ok, "expected decimal encoded as string, got %T", v)
	return decimal.RequireFromString(s)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, newFakeStore())
	code, _ := doJSON(t, srv, http.MethodGet, "/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAddItemUnknownProduct(t *testing.T) {
	srv := newTestServer(t, newFakeStore())
	tok := authToken(t, "u1", "customer")

	code, body := doJSON(t, srv, http.MethodPost, "/cart/add-item", tok,
		map[string]any{"product_id": "nope", "quantity": 1})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, decode(t, body)["error"], "product not found")
}

func TestAddItemBeyondStock(t *testing.T) {
	store := newFakeStore()
	store.seedProduct("p1", "Mug", "10.00", 5)
	srv := newTestServer(t, store)
	tok := authToken(t, "u1", "customer")

	code, body := doJSON(t, srv, http.MethodPost, "/cart/add-item", tok,
		map[string]any{"product_id": "p1", "quantity": 6})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, decode(t, body)["error"], "not enough stock for Mug")
}

func TestAddItemAccumulates(t *testing.T) {
	store := newFakeStore()
	store.seedProduct("p1", "Mug", "10.00", 10)
	srv := newTestServer(t, store)
	tok := authToken(t, "u1", "customer")

	code, _ := doJSON(t, srv, http.MethodPost, "/cart/add-item", tok,
		map[string]any{"product_id": "p1", "quantity": 2})
	require.Equal(t, http.StatusOK, code)

	code, body := doJSON(t, srv, http.MethodPost, "/cart/add-item", tok,
		map[string]any{"product_id": "p1", "quantity": 3})
	require.Equal(t, http.StatusOK, code)

	resp := decode(t, body)
	items := resp["items"].([]any)
	require.Len(t, items, 1)
	assert.EqualValues(t, 5, items[0].(map[string]any)["quantity"])
	assert.True(t, jsonDecimal(t, resp["total"]).Equal(decimal.RequireFromString("50.00")))
}

func TestRemoveItemAbsent(t *testing.T) {
	store := newFakeStore()
	store.seedProduct("p1", "Mug", "10.00", 10)
	store.seedCartLine("u1", "p1", 1)
	srv := newTestServer(t, store)
	tok := authToken(t, "u1", "customer")

	code, _ := doJSON(t, srv, http.MethodPost, "/cart/remove-item", tok,
		map[string]any{"product_id": "other"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCheckoutEndToEnd(t *testing.T) {
	store := newFakeStore()
	store.seedProduct("a", "Product A", "10.00", 5)
	store.seedProduct("b", "Product B", "5.00", 1)
	store.seedCartLine("u1", "a", 2)
	store.seedCartLine("u1", "b", 1)
	srv := newTestServer(t, store)
	tok := authToken(t, "u1", "customer")

	code, body := doJSON(t, srv, http.MethodPost, "/orders", tok, map[string]any{})
	require.Equal(t, http.StatusCreated, code, "body: %s", body)

	resp := decode(t, body)
	order := resp["order"].(map[string]any)
	assert.True(t, jsonDecimal(t, order["total_amount"]).Equal(decimal.RequireFromString("25.00")))
	assert.Equal(t, "pending", order["status"])
	assert.Len(t, order["tracking_number"], 10)
	assert.Len(t, order["items"], 2)
	assert.Equal(t, "12 Main St", order["shipping_address"], "falls back to the default address from the claims")
	assert.NotEmpty(t, resp["message"])

	assert.Equal(t, 3, store.products["a"].Stock)
	assert.Equal(t, 0, store.products["b"].Stock)
	assert.Empty(t, store.carts["u1"], "cart is emptied on success")
}

func TestCheckoutInsufficientStock(t *testing.T) {
	store := newFakeStore()
	store.seedProduct("a", "Product A", "10.00", 2)
	store.seedCartLine("u1", "a", 3)
	srv := newTestServer(t, store)
	tok := authToken(t, "u1", "customer")

	code, body := doJSON(t, srv, http.MethodPost, "/orders", tok, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, decode(t, body)["error"], "Product A")

	assert.Equal(t, 2, store.products["a"].Stock, "stock unchanged")
	assert.Equal(t, 3, store.carts["u1"]["a"], "cart unchanged")
	assert.Empty(t, store.orders, "no order created")
}

func TestCheckoutEmptyCart(t *testing.T) {
	store := newFakeStore()
	store.carts["u1"] = map[string]int{}
	srv := newTestServer(t, store)
	tok := authToken(t, "u1", "customer")

	code, body := doJSON(t, srv, http.MethodPost, "/orders", tok, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, decode(t, body)["error"], "empty cart")
}

func TestCheckoutWithoutCart(t *testing.T) {
	srv := newTestServer(t, newFakeStore())
	tok := authToken(t, "u1", "customer")

	code, _ := doJSON(t, srv, http.MethodPost, "/orders", tok, map[string]any{})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCheckoutWithCoupon(t *testing.T) {
	store := newFakeStore()
	store.seedProduct("a", "Product A", "50.00", 10)
	store.seedCartLine("u1", "a", 2)
	limit := 1
	store.coupons["SAVE20"] = &shop.Coupon{
		ID: 1, Code: "SAVE20", DiscountPercent: decimal.RequireFromString("20"),
		IsActive:  true,
		ValidFrom: time.Now().Add(-time.Hour), ValidTo: time.Now().Add(time.Hour),
		UsageLimit: &limit,
	}
	srv := newTestServer(t, store)
	tok := authToken(t, "u1", "customer")

	code, body := doJSON(t, srv, http.MethodPost, "/orders", tok,
		map[string]any{"coupon_code": "SAVE20"})
	require.Equal(t, http.StatusCreated, code, "body: %s", body)

	order := decode(t, body)["order"].(map[string]any)
	assert.True(t, jsonDecimal(t, order["total_amount"]).Equal(decimal.RequireFromString("80.00")),
		"20%% off 100.00, got %v", order["total_amount"])
	assert.Equal(t, 1, store.coupons["SAVE20"].UsageCount)

	// Limit reached: a second checkout with the same code is rejected.
	store.seedCartLine("u2", "a", 1)
	code, body = doJSON(t, srv, http.MethodPost, "/orders", authToken(t, "u2", "customer"),
		map[string]any{"coupon_code": "SAVE20"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, decode(t, body)["error"], "usage limit")
}

func TestUpdateStatusForbidden(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = &shop.Order{ID: "o1", UserID: "u1", Status: shop.StatusPending}
	srv := newTestServer(t, store)

	code, _ := doJSON(t, srv, http.MethodPost, "/orders/o1/update-status",
		authToken(t, "u1", "customer"), map[string]any{"status": "processing"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, shop.StatusPending, store.orders["o1"].Status, "status unchanged")
}

func TestUpdateStatusUnknownValue(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = &shop.Order{ID: "o1", UserID: "u1", Status: shop.StatusPending}
	srv := newTestServer(t, store)

	code, _ := doJSON(t, srv, http.MethodPost, "/orders/o1/update-status",
		authToken(t, "admin1", RoleAdmin), map[string]any{"status": "refunded"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, shop.StatusPending, store.orders["o1"].Status)
}

func TestUpdateStatusForwardOnly(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = &shop.Order{ID: "o1", UserID: "u1", Status: shop.StatusDelivered}
	srv := newTestServer(t, store)

	code, body := doJSON(t, srv, http.MethodPost, "/orders/o1/update-status",
		authToken(t, "admin1", RoleAdmin), map[string]any{"status": "pending"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, decode(t, body)["error"], "transition")
}

func TestUpdateStatusOK(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = &shop.Order{ID: "o1", UserID: "u1", Status: shop.StatusPending}
	srv := newTestServer(t, store)

	code, body := doJSON(t, srv, http.MethodPost, "/orders/o1/update-status",
		authToken(t, "admin1", RoleAdmin), map[string]any{"status": "processing"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "processing", decode(t, body)["status"])
}

func TestGetOrderOwnership(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = &shop.Order{ID: "o1", UserID: "u1", Status: shop.StatusPending}
	srv := newTestServer(t, store)

	code, _ := doJSON(t, srv, http.MethodGet, "/orders/o1", authToken(t, "u2", "customer"), nil)
	assert.Equal(t, http.StatusNotFound, code, "other users' orders are invisible")

	code, _ = doJSON(t, srv, http.MethodGet, "/orders/o1", authToken(t, "u1", "customer"), nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = doJSON(t, srv, http.MethodGet, "/orders/o1", authToken(t, "admin1", RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestCouponValidate(t *testing.T) {
	store := newFakeStore()
	store.seedProduct("a", "Product A", "50.00", 10)
	store.seedCartLine("u1", "a", 2)
	store.coupons["SAVE20"] = &shop.Coupon{
		ID: 1, Code: "SAVE20", DiscountPercent: decimal.RequireFromString("20"),
		IsActive:  true,
		ValidFrom: time.Now().Add(-time.Hour), ValidTo: time.Now().Add(time.Hour),
	}
	srv := newTestServer(t, store)
	tok := authToken(t, "u1", "customer")

	code, body := doJSON(t, srv, http.MethodPost, "/coupons/validate", tok,
		map[string]any{"code": "SAVE20"})
	require.Equal(t, http.StatusOK, code)
	resp := decode(t, body)
	assert.Equal(t, true, resp["valid"])
	assert.True(t, jsonDecimal(t, resp["cart_total"]).Equal(decimal.RequireFromString("100.00")))
	assert.True(t, jsonDecimal(t, resp["discount_amount"]).Equal(decimal.RequireFromString("20")))
	assert.True(t, jsonDecimal(t, resp["cart_total_after_discount"]).Equal(decimal.RequireFromString("80")))

	code, body = doJSON(t, srv, http.MethodPost, "/coupons/validate", tok,
		map[string]any{"code": "NOPE"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, decode(t, body)["valid"])

	code, _ = doJSON(t, srv, http.MethodPost, "/coupons/validate",
		authToken(t, "no-cart-user", "customer"), map[string]any{"code": "SAVE20"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCouponValidateRejectsExpired(t *testing.T) {
	store := newFakeStore()
	store.seedProduct("a", "Product A", "50.00", 10)
	store.seedCartLine("u1", "a", 1)
	store.coupons["OLD"] = &shop.Coupon{
		ID: 1, Code: "OLD", DiscountPercent: decimal.RequireFromString("20"),
		IsActive:  true,
		ValidFrom: time.Now().Add(-48 * time.Hour), ValidTo: time.Now().Add(-24 * time.Hour),
	}
	srv := newTestServer(t, store)

	code, body := doJSON(t, srv, http.MethodPost, "/coupons/validate",
		authToken(t, "u1", "customer"), map[string]any{"code": "OLD"})
	require.Equal(t, http.StatusOK, code)
	resp := decode(t, body)
	assert.Equal(t, false, resp["valid"])
	assert.NotEmpty(t, resp["message"])
}

// Ten checkouts race for five units, two units each: exactly two may
// succeed and stock must never go negative.
func TestConcurrentCheckoutsRespectStock(t *testing.T) {
	store := newFakeStore()
	store.seedProduct("a", "Product A", "10.00", 5)
	for i := 0; i < 10; i++ {
		store.seedCartLine(fmt.Sprintf("u%d", i), "a", 2)
	}
	srv := newTestServer(t, store)

	tokens := make([]string, 10)
	for i := range tokens {
		tokens[i] = authToken(t, fmt.Sprintf("u%d", i), "customer")
	}

	var wg sync.WaitGroup
	codes := make([]int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, srv.URL+"/orders", bytes.NewReader([]byte("{}")))
			req.Header.Set("Authorization", "Bearer "+tokens[i])
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	created := 0
	for _, c := range codes {
		if c == http.StatusCreated {
			created++
		}
	}
	assert.Equal(t, 2, created, "floor(5/2) checkouts may succeed")
	assert.Equal(t, 1, store.products["a"].Stock)
	assert.GreaterOrEqual(t, store.products["a"].Stock, 0)
	assert.Len(t, store.orders, 2)
}
