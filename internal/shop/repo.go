package shop

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the persistence layer for the shop domain. Events is invoked
// after every committed order mutation.
type Repo struct {
	DB     *pgxpool.Pool
	Events Dispatcher
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, title, slug, COALESCE(description, ''), price, stock, is_active, created_at, updated_at
		FROM products ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Title, &p.Slug, &p.Description, &p.Price, &p.Stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) GetProduct(ctx context.Context, id string) (Product, error) {
	var p Product
	err := r.DB.QueryRow(ctx, `
		SELECT id, title, slug, COALESCE(description, ''), price, stock, is_active, created_at, updated_at
		FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Title, &p.Slug, &p.Description, &p.Price, &p.Stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// GetOrCreateCart returns the user's cart, creating an empty one on
// first access.
func (r *Repo) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO carts(user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return Cart{}, err
	}
	return r.getCart(ctx, userID)
}

func (r *Repo) GetCart(ctx context.Context, userID string) (Cart, error) {
	return r.getCart(ctx, userID)
}

func (r *Repo) getCart(ctx context.Context, userID string) (Cart, error) {
	var c Cart
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id=$1`, userID).
		Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cart{}, ErrCartNotFound
	}
	if err != nil {
		return Cart{}, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT ci.product_id, ci.quantity,
		       p.id, p.title, p.slug, COALESCE(p.description, ''), p.price, p.stock, p.is_active, p.created_at, p.updated_at
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id=$1
		ORDER BY ci.product_id`, c.ID)
	if err != nil {
		return Cart{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var it CartItem
		p := &it.Product
		if err := rows.Scan(&it.ProductID, &it.Quantity,
			&p.ID, &p.Title, &p.Slug, &p.Description, &p.Price, &p.Stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return Cart{}, err
		}
		c.Items = append(c.Items, it)
	}
	return c, rows.Err()
}

// AddCartItem adds or increments a cart line. The increment is a single
// atomic upsert so concurrent adds for the same user+product serialize
// in the database.
func (r *Repo) AddCartItem(ctx context.Context, userID, productID string, qty int) (Cart, error) {
	p, err := r.GetProduct(ctx, productID)
	if err != nil {
		return Cart{}, err
	}
	if p.Stock < qty {
		return Cart{}, &InsufficientStockError{
			ProductID: p.ID, ProductTitle: p.Title, Requested: qty, Available: p.Stock,
		}
	}

	cart, err := r.GetOrCreateCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO cart_items(cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
		cart.ID, productID, qty)
	if err != nil {
		return Cart{}, err
	}
	return r.getCart(ctx, userID)
}

// RemoveCartItem decrements a line by qty, or deletes the line when qty
// is zero or would empty it. Zero-quantity lines are never stored.
func (r *Repo) RemoveCartItem(ctx context.Context, userID, productID string, qty int) (Cart, error) {
	cart, err := r.getCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	if qty > 0 {
		ct, err := r.DB.Exec(ctx, `
			UPDATE cart_items SET quantity = quantity - $3
			WHERE cart_id=$1 AND product_id=$2 AND quantity > $3`,
			cart.ID, productID, qty)
		if err != nil {
			return Cart{}, err
		}
		if ct.RowsAffected() == 1 {
			return r.getCart(ctx, userID)
		}
	}

	ct, err := r.DB.Exec(ctx, `
		DELETE FROM cart_items WHERE cart_id=$1 AND product_id=$2`, cart.ID, productID)
	if err != nil {
		return Cart{}, err
	}
	if ct.RowsAffected() == 0 {
		return Cart{}, ErrCartItemNotFound
	}
	return r.getCart(ctx, userID)
}

func (r *Repo) ClearCart(ctx context.Context, userID string) (Cart, error) {
	cart, err := r.getCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	if _, err := r.DB.Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1`, cart.ID); err != nil {
		return Cart{}, err
	}
	cart.Items = nil
	return cart, nil
}

func (r *Repo) GetCoupon(ctx context.Context, code string) (Coupon, error) {
	var c Coupon
	err := r.DB.QueryRow(ctx, `
		SELECT id, code, COALESCE(description, ''), discount_percent, is_active,
		       valid_from, valid_to, min_purchase_amount, max_discount_amount,
		       usage_limit, usage_count, first_time_users_only
		FROM coupons WHERE code=$1`, code).
		Scan(&c.ID, &c.Code, &c.Description, &c.DiscountPercent, &c.IsActive,
			&c.ValidFrom, &c.ValidTo, &c.MinPurchaseAmount, &c.MaxDiscountAmount,
			&c.UsageLimit, &c.UsageCount, &c.FirstTimeUsersOnly)
	if errors.Is(err, pgx.ErrNoRows) {
		return Coupon{}, ErrCouponNotFound
	}
	return c, err
}

// HasDeliveredOrder reports whether the user has a prior order in the
// delivered state. Used by first_time_users_only coupons.
func (r *Repo) HasDeliveredOrder(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE user_id=$1 AND status=$2)`,
		userID, StatusDelivered).Scan(&exists)
	return exists, err
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, user_email, status, total_amount, shipping_address,
		       tracking_number, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.UserID, &o.UserEmail, &o.Status, &o.TotalAmount, &o.ShippingAddress,
			&o.TrackingNumber, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Items, err = r.orderItems(ctx, o.ID)
	return o, err
}

func (r *Repo) ListOrders(ctx context.Context, userID string, all bool) ([]Order, error) {
	q := `SELECT id, user_id, user_email, status, total_amount, shipping_address,
	             tracking_number, created_at, updated_at
	      FROM orders WHERE user_id=$1 ORDER BY created_at DESC`
	args := []any{userID}
	if all {
		q = `SELECT id, user_id, user_email, status, total_amount, shipping_address,
		            tracking_number, created_at, updated_at
		     FROM orders ORDER BY created_at DESC`
		args = nil
	}
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.UserEmail, &o.Status, &o.TotalAmount,
			&o.ShippingAddress, &o.TrackingNumber, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = r.orderItems(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repo) orderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, product_id, product_name, product_price, quantity
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.ProductID, &it.ProductName, &it.ProductPrice, &it.Quantity); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
