package models

// SystemMetrics is the JSON snapshot served next to the prometheus endpoint.
type SystemMetrics struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	Goroutines        int     `json:"goroutines"`
	TotalRequests     uint64  `json:"total_requests"`
	CacheHits         uint64  `json:"cache_hits"`
	CacheMisses       uint64  `json:"cache_misses"`
	CacheHitRatio     float64 `json:"cache_hit_ratio"`
	Recomputes        uint64  `json:"recomputes"`
	LastRecomputeMs   float64 `json:"last_recompute_ms"`
	BulkRowsAccepted  uint64  `json:"bulk_rows_accepted"`
	BulkRowsRejected  uint64  `json:"bulk_rows_rejected"`
	DBOpenConnections int     `json:"db_open_connections"`
	DBInUse           int     `json:"db_in_use"`
}
