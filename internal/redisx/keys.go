package redisx

import "time"

const (
	// Latest known status of an order: order_status:{order_id} -> StatusEntry JSON
	KeyOrderStatus = "order_status:%s"

	// Summary list of one party: orders:{customer|company}:{id} -> []orders.Summary JSON
	KeySummaries = "orders:%s:%s"

	// Invalidation counter of one party's summary list: orders_ver:{customer|company}:{id} -> int
	KeySummaryVersion = "orders_ver:%s:%s"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

const (
	ScopeCustomer = "customer"
	ScopeCompany  = "company"
)

var (
	TTLStatusCache  = 5 * time.Minute
	TTLSummaryCache = time.Minute
	TTLDedup        = 48 * time.Hour
	TTLSummaryVer   = 24 * time.Hour
)
