package model

import "time"

// KeyUsage is the per-credential slice of a ServiceStatus report. The secret
// is masked before it leaves the pool.
type KeyUsage struct {
	ID            string
	MaskedSecret  string
	RequestsUsed  int64
	DailyRequests int64
	Blocked       bool
	BlockedUntil  time.Time
	LastRequest   time.Time
}

// ServiceStatus is the administrative snapshot of the gateway: pool health,
// aggregate usage, and cache population.
type ServiceStatus struct {
	TotalKeys          int
	ActiveKeys         int
	BlockedKeys        int
	TotalRequests      int64
	TotalDailyRequests int64
	CacheSize          int
	Keys               []KeyUsage
}

// KeyValidation is the outcome of probing every shared credential against a
// benchmark symbol.
type KeyValidation struct {
	Valid   []string // Masked secrets that answered the probe.
	Invalid []string // Masked secrets that failed it.
}
