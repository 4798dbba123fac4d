package shop

import (
	"time"

	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// CouponResult is the outcome of evaluating a coupon against a cart.
type CouponResult struct {
	Applicable         bool            `json:"valid"`
	Reason             string          `json:"message,omitempty"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	TotalAfterDiscount decimal.Decimal `json:"cart_total_after_discount"`
}

// EvaluateCoupon decides whether a coupon applies and computes the
// discount. It is a pure function: it never touches usage_count (that
// happens only inside the checkout transaction). hasDeliveredOrder is
// whether the user already has an order in the delivered state.
//
// Checks run in order and short-circuit on the first failure. The
// validity window is inclusive on both ends.
func EvaluateCoupon(c Coupon, cartTotal decimal.Decimal, hasDeliveredOrder bool, now time.Time) CouponResult {
	fail := func(reason string) CouponResult {
		return CouponResult{Reason: reason, TotalAfterDiscount: cartTotal}
	}

	if !c.IsActive {
		return fail("coupon is not active")
	}
	if now.Before(c.ValidFrom) || now.After(c.ValidTo) {
		return fail("coupon is outside its validity period")
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return fail("coupon usage limit reached")
	}
	if cartTotal.LessThan(c.MinPurchaseAmount) {
		return fail("cart total is below the minimum purchase amount")
	}
	if c.FirstTimeUsersOnly && hasDeliveredOrder {
		return fail("coupon is only valid for first-time customers")
	}

	discount := cartTotal.Mul(c.DiscountPercent).Div(oneHundred).Round(2)
	if c.MaxDiscountAmount != nil && discount.GreaterThan(*c.MaxDiscountAmount) {
		discount = *c.MaxDiscountAmount
	}
	return CouponResult{
		Applicable:         true,
		DiscountAmount:     discount,
		TotalAfterDiscount: cartTotal.Sub(discount),
	}
}
