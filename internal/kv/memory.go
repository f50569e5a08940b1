package kv

import (
	"container/list"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultMaxBytes        = 256 * 1024 * 1024
	DefaultMaxKeyLength    = 256
	DefaultMaxValueSize    = 4 * 1024 * 1024
	DefaultCleanupInterval = 60 * time.Second

	NamespaceResponses  = "responses"
	NamespaceRateLimits = "rate_limits"
	NamespaceSystem     = "system"
)

// Per-namespace key quotas keep one hot namespace from evicting everything
// else.
var namespaceQuotas = map[string]int64{
	NamespaceResponses:  50000,
	NamespaceRateLimits: 100000,
	NamespaceSystem:     128,
}

type entry struct {
	namespace string
	key       string
	value     []byte
	expiresAt time.Time
	size      int
	lruNode   *list.Element
}

// MemoryStore is a TTL + LRU bounded in-memory store. Safe for concurrent
// use.
type MemoryStore struct {
	mu           sync.RWMutex
	data         map[string]*entry
	lru          *list.List
	maxBytes     int64
	currentBytes int64
	maxKeyLength int
	maxValueSize int
	evictions    int64
	hits         int64
	misses       int64
	stopCh       chan struct{}
	stopped      atomic.Bool
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(DefaultMaxBytes, DefaultMaxKeyLength, DefaultMaxValueSize)
}

func NewMemoryStoreWithConfig(maxBytes int64, maxKeyLength, maxValueSize int) *MemoryStore {
	s := &MemoryStore{
		data:         make(map[string]*entry),
		lru:          list.New(),
		maxBytes:     maxBytes,
		maxKeyLength: maxKeyLength,
		maxValueSize: maxValueSize,
		stopCh:       make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) Get(namespace, key string) ([]byte, bool) {
	if namespace == "" || key == "" {
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fullKey := s.makeKey(namespace, key)
	e, ok := s.data[fullKey]
	if !ok {
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}

	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		s.deleteEntryLocked(fullKey, e)
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}

	s.lru.MoveToFront(e.lruNode)
	atomic.AddInt64(&s.hits, 1)

	result := make([]byte, len(e.value))
	copy(result, e.value)
	return result, true
}

func (s *MemoryStore) Set(namespace, key string, value []byte, ttl time.Duration) error {
	if err := s.validate(namespace, key, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNamespaceQuota(namespace); err != nil {
		return err
	}

	return s.setLocked(namespace, key, value, ttl)
}

func (s *MemoryStore) Delete(namespace, key string) error {
	if namespace == "" || key == "" {
		return ErrKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fullKey := s.makeKey(namespace, key)
	e, ok := s.data[fullKey]
	if !ok {
		return ErrKeyNotFound
	}

	s.deleteEntryLocked(fullKey, e)
	return nil
}

// GetResponse looks up a cached RPC response by call hash.
func (s *MemoryStore) GetResponse(key [32]byte) ([]byte, bool) {
	return s.Get(NamespaceResponses, hex.EncodeToString(key[:]))
}

// SetResponse caches an RPC response under its call hash.
func (s *MemoryStore) SetResponse(key [32]byte, payload []byte, ttl time.Duration) error {
	return s.Set(NamespaceResponses, hex.EncodeToString(key[:]), payload, ttl)
}

// HitStats returns cumulative hit/miss counters across all namespaces.
func (s *MemoryStore) HitStats() (int64, int64) {
	return atomic.LoadInt64(&s.hits), atomic.LoadInt64(&s.misses)
}

// IncrementRateLimit bumps the per-client request counter, creating it with
// the given ttl when absent or expired, and returns the new count.
func (s *MemoryStore) IncrementRateLimit(clientID string, ttl time.Duration) (int64, error) {
	if clientID == "" {
		return 0, ErrKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fullKey := s.makeKey(NamespaceRateLimits, clientID)
	e, ok := s.data[fullKey]

	if !ok || (!e.expiresAt.IsZero() && time.Now().After(e.expiresAt)) {
		if ok {
			s.deleteEntryLocked(fullKey, e)
		}
		if err := s.setLocked(NamespaceRateLimits, clientID, []byte("1"), ttl); err != nil {
			return 0, err
		}
		return 1, nil
	}

	count, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid counter value: %w", err)
	}
	count++

	if err := s.setLocked(NamespaceRateLimits, clientID, []byte(strconv.FormatInt(count, 10)), ttl); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	namespaceCounts := make(map[string]int64)
	totalKeys := int64(0)

	now := time.Now()
	for _, e := range s.data {
		if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
			namespaceCounts[e.namespace]++
			totalKeys++
		}
	}

	return Stats{
		TotalKeys:       totalKeys,
		CurrentBytes:    atomic.LoadInt64(&s.currentBytes),
		MaxBytes:        s.maxBytes,
		Evictions:       atomic.LoadInt64(&s.evictions),
		Hits:            atomic.LoadInt64(&s.hits),
		Misses:          atomic.LoadInt64(&s.misses),
		NamespaceCounts: namespaceCounts,
	}
}

func (s *MemoryStore) Close() error {
	if s.stopped.Swap(true) {
		return nil
	}
	close(s.stopCh)
	return nil
}

func (s *MemoryStore) setLocked(namespace, key string, value []byte, ttl time.Duration) error {
	fullKey := s.makeKey(namespace, key)
	entrySize := len(fullKey) + len(value) + 64

	if existing, ok := s.data[fullKey]; ok {
		atomic.AddInt64(&s.currentBytes, -int64(existing.size))
		s.lru.Remove(existing.lruNode)
	}

	for s.currentBytes+int64(entrySize) > s.maxBytes {
		if !s.evictOldest() {
			return ErrMemoryLimit
		}
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	e := &entry{
		namespace: namespace,
		key:       key,
		value:     valueCopy,
		expiresAt: expiresAt,
		size:      entrySize,
	}
	e.lruNode = s.lru.PushFront(fullKey)
	s.data[fullKey] = e
	atomic.AddInt64(&s.currentBytes, int64(entrySize))

	return nil
}

func (s *MemoryStore) validate(namespace, key string, value []byte) error {
	if namespace == "" {
		return ErrNamespaceEmpty
	}
	if key == "" {
		return ErrKeyEmpty
	}
	if len(key) > s.maxKeyLength {
		return ErrKeyTooLong
	}
	if len(value) > s.maxValueSize {
		return ErrValueTooLarge
	}
	return nil
}

func (s *MemoryStore) checkNamespaceQuota(namespace string) error {
	quota, ok := namespaceQuotas[namespace]
	if !ok {
		return nil
	}

	count := int64(0)
	now := time.Now()
	for _, e := range s.data {
		if e.namespace == namespace {
			if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
				count++
			}
		}
	}

	if count >= quota {
		return ErrNamespaceQuota
	}
	return nil
}

func (s *MemoryStore) makeKey(namespace, key string) string {
	return namespace + ":" + key
}

func (s *MemoryStore) deleteEntryLocked(fullKey string, e *entry) {
	delete(s.data, fullKey)
	s.lru.Remove(e.lruNode)
	atomic.AddInt64(&s.currentBytes, -int64(e.size))
}

func (s *MemoryStore) evictOldest() bool {
	oldest := s.lru.Back()
	if oldest == nil {
		return false
	}

	fullKey := oldest.Value.(string)
	if e, ok := s.data[fullKey]; ok {
		s.deleteEntryLocked(fullKey, e)
		atomic.AddInt64(&s.evictions, 1)
	} else {
		s.lru.Remove(oldest)
	}
	return true
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *MemoryStore) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for fullKey, e := range s.data {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			s.deleteEntryLocked(fullKey, e)
		}
	}
}
