package redisx

import "time"

const (
	// Idempotency create order: idem:order:create:{idempotency_key} -> order_number
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id atau tracking fingerprint)
	KeyDedup = "dedup:%s:%s"

	// Cache hasil lookup kurir: tracking:{tracking_number} -> []TrackingEvent JSON
	KeyTracking = "tracking:%s"
)

var (
	TTLIdempotency   = 24 * time.Hour
	TTLDedup         = 48 * time.Hour
	TTLTrackingCache = 10 * time.Minute
)
