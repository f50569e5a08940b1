package kv

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_BasicOperations(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		key       string
		value     []byte
		wantErr   bool
	}{
		{
			name:      "valid set and get",
			namespace: NamespaceResponses,
			key:       "key1",
			value:     []byte(`{"slot":12345}`),
		},
		{
			name:      "empty namespace",
			namespace: "",
			key:       "key1",
			value:     []byte("v"),
			wantErr:   true,
		},
		{
			name:      "empty key",
			namespace: NamespaceResponses,
			key:       "",
			value:     []byte("v"),
			wantErr:   true,
		},
		{
			name:      "key too long",
			namespace: NamespaceResponses,
			key:       string(make([]byte, 257)),
			value:     []byte("v"),
			wantErr:   true,
		},
		{
			name:      "value too large",
			namespace: NamespaceResponses,
			key:       "key1",
			value:     make([]byte, DefaultMaxValueSize+1),
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			defer store.Close()

			err := store.Set(tt.namespace, tt.key, tt.value, 0)
			if (err != nil) != tt.wantErr {
				t.Errorf("Set() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				val, ok := store.Get(tt.namespace, tt.key)
				if !ok {
					t.Error("Get() returned false, expected true")
					return
				}
				if !bytes.Equal(val, tt.value) {
					t.Errorf("Get() = %v, want %v", val, tt.value)
				}
			}
		})
	}
}

func TestMemoryStore_TTLExpiration(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	if err := store.Set(NamespaceResponses, "expiring", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, ok := store.Get(NamespaceResponses, "expiring"); !ok {
		t.Fatal("Get() before expiry returned false")
	}

	time.Sleep(80 * time.Millisecond)

	if _, ok := store.Get(NamespaceResponses, "expiring"); ok {
		t.Error("Get() after expiry returned true")
	}
}

func TestMemoryStore_ResponseRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	var key [32]byte
	copy(key[:], []byte("call-hash"))
	payload := []byte(`{"value":1234567}`)

	if err := store.SetResponse(key, payload, time.Minute); err != nil {
		t.Fatalf("SetResponse() error = %v", err)
	}

	got, ok := store.GetResponse(key)
	if !ok {
		t.Fatal("GetResponse() returned false")
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("GetResponse() = %s, want %s", got, payload)
	}

	var other [32]byte
	other[0] = 0xFF
	if _, ok := store.GetResponse(other); ok {
		t.Error("GetResponse() hit for unknown key")
	}
}

func TestMemoryStore_HitStats(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	var key [32]byte
	if _, ok := store.GetResponse(key); ok {
		t.Fatal("unexpected hit")
	}
	if err := store.SetResponse(key, []byte("v"), 0); err != nil {
		t.Fatalf("SetResponse() error = %v", err)
	}
	if _, ok := store.GetResponse(key); !ok {
		t.Fatal("unexpected miss")
	}

	hits, misses := store.HitStats()
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
	if misses != 1 {
		t.Errorf("misses = %d, want 1", misses)
	}
}

func TestMemoryStore_IncrementRateLimit(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	for i := int64(1); i <= 3; i++ {
		count, err := store.IncrementRateLimit("client-1", time.Minute)
		if err != nil {
			t.Fatalf("IncrementRateLimit() error = %v", err)
		}
		if count != i {
			t.Errorf("count = %d, want %d", count, i)
		}
	}

	// Independent counter per client.
	count, err := store.IncrementRateLimit("client-2", time.Minute)
	if err != nil {
		t.Fatalf("IncrementRateLimit() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count for second client = %d, want 1", count)
	}

	if _, err := store.IncrementRateLimit("", time.Minute); err != ErrKeyEmpty {
		t.Errorf("error = %v, want ErrKeyEmpty", err)
	}
}

func TestMemoryStore_RateLimitWindowResets(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	if _, err := store.IncrementRateLimit("client", 50*time.Millisecond); err != nil {
		t.Fatalf("IncrementRateLimit() error = %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	count, err := store.IncrementRateLimit("client", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("IncrementRateLimit() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count after window reset = %d, want 1", count)
	}
}

func TestMemoryStore_LRUEviction(t *testing.T) {
	// Small store that fits only a couple of entries.
	store := NewMemoryStoreWithConfig(400, DefaultMaxKeyLength, DefaultMaxValueSize)
	defer store.Close()

	if err := store.Set(NamespaceResponses, "old", make([]byte, 100), 0); err != nil {
		t.Fatalf("Set(old) error = %v", err)
	}
	if err := store.Set(NamespaceResponses, "new", make([]byte, 100), 0); err != nil {
		t.Fatalf("Set(new) error = %v", err)
	}

	// Touch "old" so "new" becomes the eviction candidate.
	if _, ok := store.Get(NamespaceResponses, "old"); !ok {
		t.Fatal("Get(old) missed")
	}

	if err := store.Set(NamespaceResponses, "third", make([]byte, 100), 0); err != nil {
		t.Fatalf("Set(third) error = %v", err)
	}

	if _, ok := store.Get(NamespaceResponses, "old"); !ok {
		t.Error("recently used entry evicted")
	}
	if _, ok := store.Get(NamespaceResponses, "new"); ok {
		t.Error("LRU entry survived eviction")
	}
	if store.Stats().Evictions == 0 {
		t.Error("eviction counter not incremented")
	}
}

func TestMemoryStore_Stats(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	_ = store.Set(NamespaceResponses, "a", []byte("1"), 0)
	_ = store.Set(NamespaceResponses, "b", []byte("2"), 0)
	_, _ = store.IncrementRateLimit("client", time.Minute)

	stats := store.Stats()
	if stats.TotalKeys != 3 {
		t.Errorf("TotalKeys = %d, want 3", stats.TotalKeys)
	}
	if stats.NamespaceCounts[NamespaceResponses] != 2 {
		t.Errorf("responses count = %d, want 2", stats.NamespaceCounts[NamespaceResponses])
	}
	if stats.NamespaceCounts[NamespaceRateLimits] != 1 {
		t.Errorf("rate_limits count = %d, want 1", stats.NamespaceCounts[NamespaceRateLimits])
	}
	if stats.CurrentBytes <= 0 {
		t.Errorf("CurrentBytes = %d, want > 0", stats.CurrentBytes)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			var key [32]byte
			key[0] = byte(n)
			for j := 0; j < 100; j++ {
				_ = store.SetResponse(key, []byte("payload"), time.Minute)
				_, _ = store.GetResponse(key)
				_, _ = store.IncrementRateLimit("shared", time.Minute)
			}
		}(i)
	}
	wg.Wait()

	count, err := store.IncrementRateLimit("shared", time.Minute)
	if err != nil {
		t.Fatalf("IncrementRateLimit() error = %v", err)
	}
	if count != 1001 {
		t.Errorf("count = %d, want 1001", count)
	}
}

func TestMemoryStore_CloseIdempotent(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
