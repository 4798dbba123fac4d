package redisx

import "time"

const (
	// Read-through cache of the product listing: products:list -> JSON array.
	// Invalidated (DEL) whenever checkout mutates stock.
	KeyProductList = "products:list"

	// Single product cache: product:{product_id} -> JSON
	KeyProduct = "product:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	// Checkout never reads these caches; it always hits Postgres.
	TTLProductCache = 5 * time.Minute
	TTLDedup        = 48 * time.Hour
)
