package shop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const trackingAttempts = 5

type checkoutLine struct {
	productID string
	title     string
	price     decimal.Decimal
	stock     int
	qty       int
}

// Checkout converts the user's cart into an order in one transaction:
// lock the cart's products, verify stock against every line, snapshot
// the items, decrement stock, optionally redeem a coupon, clear the
// cart. Nothing is observable unless the whole sequence commits. The
// OrderPlaced event is dispatched only after commit.
func (r *Repo) Checkout(ctx context.Context, userID, userEmail, shippingAddress, couponCode string) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cartID int64
	err = tx.QueryRow(ctx, `SELECT id FROM carts WHERE user_id=$1`, userID).Scan(&cartID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrCartNotFound
	}
	if err != nil {
		return Order{}, err
	}

	// Row locks on every product in the cart, taken in a stable order so
	// two overlapping checkouts cannot deadlock. The stock check below is
	// serializable per product because of these locks.
	rows, err := tx.Query(ctx, `
		SELECT p.id, p.title, p.price, p.stock, ci.quantity
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id=$1
		ORDER BY p.id
		FOR UPDATE OF p`, cartID)
	if err != nil {
		return Order{}, err
	}
	var lines []checkoutLine
	for rows.Next() {
		var l checkoutLine
		if err := rows.Scan(&l.productID, &l.title, &l.price, &l.stock, &l.qty); err != nil {
			rows.Close()
			return Order{}, err
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Order{}, err
	}
	if len(lines) == 0 {
		return Order{}, ErrEmptyCart
	}

	// Validate everything before mutating anything.
	total := decimal.Zero
	for _, l := range lines {
		if l.stock < l.qty {
			return Order{}, &InsufficientStockError{
				ProductID: l.productID, ProductTitle: l.title, Requested: l.qty, Available: l.stock,
			}
		}
		total = total.Add(l.price.Mul(decimal.NewFromInt(int64(l.qty))))
	}

	if couponCode != "" {
		total, err = r.redeemCoupon(ctx, tx, couponCode, userID, total)
		if err != nil {
			return Order{}, err
		}
	}

	tracking, err := pickTrackingNumber(ctx, tx)
	if err != nil {
		return Order{}, err
	}

	o := Order{
		ID:              uuid.NewString(),
		UserID:          userID,
		UserEmail:       userEmail,
		Status:          StatusPending,
		TotalAmount:     total,
		ShippingAddress: shippingAddress,
		TrackingNumber:  tracking,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, user_id, user_email, status, total_amount, shipping_address, tracking_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		o.ID, o.UserID, o.UserEmail, o.Status, o.TotalAmount, o.ShippingAddress, o.TrackingNumber).
		Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}

	for _, l := range lines {
		var it OrderItem
		pid := l.productID
		it.ProductID = &pid
		it.ProductName = l.title
		it.ProductPrice = l.price
		it.Quantity = l.qty
		err = tx.QueryRow(ctx, `
			INSERT INTO order_items(order_id, product_id, product_name, product_price, quantity)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			o.ID, l.productID, l.title, l.price, l.qty).Scan(&it.ID)
		if err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)

		ct, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock - $2, updated_at = now()
			WHERE id=$1 AND stock >= $2`, l.productID, l.qty)
		if err != nil {
			return Order{}, err
		}
		if ct.RowsAffected() != 1 {
			// Cannot happen while the row lock is held; abort loudly if it does.
			return Order{}, fmt.Errorf("stock decrement lost for product %s", l.productID)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1`, cartID); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}

	if r.Events != nil {
		r.Events.OrderPlaced(o)
	}
	return o, nil
}

// redeemCoupon locks the coupon row, re-evaluates it inside the
// transaction and increments usage_count under the same guard, so the
// count can never exceed usage_limit even under concurrent checkouts.
func (r *Repo) redeemCoupon(ctx context.Context, tx pgx.Tx, code, userID string, cartTotal decimal.Decimal) (decimal.Decimal, error) {
	var c Coupon
	err := tx.QueryRow(ctx, `
		SELECT id, code, COALESCE(description, ''), discount_percent, is_active,
		       valid_from, valid_to, min_purchase_amount, max_discount_amount,
		       usage_limit, usage_count, first_time_users_only
		FROM coupons WHERE code=$1 FOR UPDATE`, code).
		Scan(&c.ID, &c.Code, &c.Description, &c.DiscountPercent, &c.IsActive,
			&c.ValidFrom, &c.ValidTo, &c.MinPurchaseAmount, &c.MaxDiscountAmount,
			&c.UsageLimit, &c.UsageCount, &c.FirstTimeUsersOnly)
	if errors.Is(err, pgx.ErrNoRows) {
		return cartTotal, ErrCouponNotFound
	}
	if err != nil {
		return cartTotal, err
	}

	var hasDelivered bool
	if c.FirstTimeUsersOnly {
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM orders WHERE user_id=$1 AND status=$2)`,
			userID, StatusDelivered).Scan(&hasDelivered)
		if err != nil {
			return cartTotal, err
		}
	}

	res := EvaluateCoupon(c, cartTotal, hasDelivered, time.Now())
	if !res.Applicable {
		return cartTotal, fmt.Errorf("%w: %s", ErrCouponNotValid, res.Reason)
	}

	ct, err := tx.Exec(ctx, `
		UPDATE coupons SET usage_count = usage_count + 1
		WHERE id=$1 AND (usage_limit IS NULL OR usage_count < usage_limit)`, c.ID)
	if err != nil {
		return cartTotal, err
	}
	if ct.RowsAffected() != 1 {
		return cartTotal, fmt.Errorf("%w: coupon usage limit reached", ErrCouponNotValid)
	}
	return res.TotalAfterDiscount, nil
}

// pickTrackingNumber generates candidates until one is free. The unique
// index on orders.tracking_number remains the backstop: a lost race
// fails the transaction and surfaces as a retryable error.
func pickTrackingNumber(ctx context.Context, tx pgx.Tx) (string, error) {
	for i := 0; i < trackingAttempts; i++ {
		candidate := NewTrackingNumber()
		var taken bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM orders WHERE tracking_number=$1)`, candidate).Scan(&taken)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrTrackingExhausted
}

// UpdateStatus transitions an order to a new status under the forward-
// only state machine. The event is dispatched only after the new status
// is durably committed.
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, next Status) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(current, next) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	_, err = tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, next)
	if err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}

	o, err := r.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if r.Events != nil {
		r.Events.OrderStatusChanged(o, current)
	}
	return o, nil
}
