package redisx

import "time"

const (
	// UI flow state per actor: session:{actor_id} -> JSON session record
	KeySession = "session:%d"

	// Sorted set of (deadline unix ts, order_id) driving the expiry scheduler.
	KeyExpiryQueue = "payment_expiry_queue"

	// Cached free-stock count: stock_count:{product_id} -> int
	KeyStockCount = "stock_count:%d"

	// Rate limiting: rate:{actor_id}:{action} -> counter
	KeyRate = "rate:%d:%s"

	// Dedup for gateway webhook redeliveries: dedup:webhook:{invoice}:{status}
	KeyWebhookDedup = "dedup:webhook:%s:%s"
)

var (
	TTLStockCache = 5 * time.Minute
	TTLDedup      = 48 * time.Hour
)
