package kv

import "time"

// Store is the in-process cache shared by the RPC router (response caching)
// and the API layer (rate limiting).
type Store interface {
	Get(namespace, key string) ([]byte, bool)
	Set(namespace, key string, value []byte, ttl time.Duration) error
	Delete(namespace, key string) error
	GetResponse(key [32]byte) ([]byte, bool)
	SetResponse(key [32]byte, payload []byte, ttl time.Duration) error
	HitStats() (hits, misses int64)
	IncrementRateLimit(clientID string, ttl time.Duration) (int64, error)
	Stats() Stats
	Close() error
}

type Stats struct {
	TotalKeys       int64
	CurrentBytes    int64
	MaxBytes        int64
	Evictions       int64
	Hits            int64
	Misses          int64
	NamespaceCounts map[string]int64
}
