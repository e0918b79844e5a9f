package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type Config struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

// Store is a typed TTL cache. Values are stored as given; callers owning
// mutable values must copy them on the way in and out.
type Store[T any] struct {
	items *gocache.Cache
}

func New[T any](config Config) *Store[T] {
	if config.TTL <= 0 {
		config.TTL = 15 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 2 * config.TTL
	}
	return &Store[T]{items: gocache.New(config.TTL, config.CleanupInterval)}
}

func (s *Store[T]) Get(key string) (T, bool) {
	var zero T
	value, ok := s.items.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := value.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

func (s *Store[T]) Set(key string, value T) {
	s.items.SetDefault(key, value)
}

// Add stores value only when key is absent or expired and reports whether it did.
func (s *Store[T]) Add(key string, value T) bool {
	return s.items.Add(key, value, gocache.DefaultExpiration) == nil
}

func (s *Store[T]) Delete(key string) {
	s.items.Delete(key)
}

// BuildSignature hashes trimmed parts into a stable cache key. Case is kept.
func BuildSignature(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		normalized = append(normalized, strings.TrimSpace(part))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "||")))
	return hex.EncodeToString(sum[:])
}
