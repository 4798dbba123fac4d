package shop

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrCartNotFound     = errors.New("cart not found")
	ErrCartItemNotFound = errors.New("item not found in cart")
	ErrOrderNotFound    = errors.New("order not found")
	ErrCouponNotFound   = errors.New("coupon not found")

	ErrEmptyCart         = errors.New("cannot create order with empty cart")
	ErrInvalidStatus     = errors.New("invalid status value")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrCouponNotValid    = errors.New("coupon is not valid for this order")
	ErrTrackingExhausted = errors.New("could not allocate a unique tracking number")
)

// InsufficientStockError identifies the offending product, per the
// checkout contract.
type InsufficientStockError struct {
	ProductID    string
	ProductTitle string
	Requested    int
	Available    int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for %s: requested %d, available %d",
		e.ProductTitle, e.Requested, e.Available)
}
