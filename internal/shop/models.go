package shop

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	ParentID    *int64 `json:"parent_id,omitempty"`
}

type Product struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Slug        string          `json:"slug"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type ProductImage struct {
	ID        int64  `json:"id"`
	ProductID string `json:"product_id"`
	URL       string `json:"url"`
	IsPrimary bool   `json:"is_primary"`
}

type Cart struct {
	ID        int64      `json:"id"`
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CartItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Product   Product `json:"product"`
}

// Total sums quantity * current product price over the cart.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Product.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	UserEmail       string          `json:"-"`
	Status          Status          `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress string          `json:"shipping_address"`
	TrackingNumber  string          `json:"tracking_number"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []OrderItem     `json:"items"`
}

// OrderItem is a snapshot taken at purchase time. Name and price never
// track later product changes, and ProductID goes nil if the product row
// is deleted.
type OrderItem struct {
	ID           int64           `json:"id"`
	ProductID    *string         `json:"product_id"`
	ProductName  string          `json:"product_name"`
	ProductPrice decimal.Decimal `json:"product_price"`
	Quantity     int             `json:"quantity"`
}

type Coupon struct {
	ID                 int64            `json:"id"`
	Code               string           `json:"code"`
	Description        string           `json:"description,omitempty"`
	DiscountPercent    decimal.Decimal  `json:"discount_percent"`
	IsActive           bool             `json:"is_active"`
	ValidFrom          time.Time        `json:"valid_from"`
	ValidTo            time.Time        `json:"valid_to"`
	MinPurchaseAmount  decimal.Decimal  `json:"min_purchase_amount"`
	MaxDiscountAmount  *decimal.Decimal `json:"max_discount_amount,omitempty"`
	UsageLimit         *int             `json:"usage_limit,omitempty"`
	UsageCount         int              `json:"usage_count"`
	FirstTimeUsersOnly bool             `json:"first_time_users_only"`
}
