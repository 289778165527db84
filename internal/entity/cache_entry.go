package entity

import (
	"encoding/json"
	"time"
)

// CacheEntry is a memoized extraction result keyed by content fingerprint.
type CacheEntry struct {
	Fingerprint string          `json:"fingerprint"`
	Payload     json.RawMessage `json:"payload"`
	Model       string          `json:"model,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	TTL         time.Duration   `json:"ttl"`
	HitCount    int64           `json:"hit_count"`
}

func (e *CacheEntry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Expired reports whether the entry must be treated as absent at now.
// A zero TTL never expires.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.ExpiresAt())
}
