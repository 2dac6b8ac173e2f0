// Package cache keeps recent classification results keyed by image content.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a fixed-size LRU. A nil *Cache is a valid, always-missing cache.
type Cache[V any] struct {
	lru *lru.Cache[string, V]
}

// New returns nil when size is 0.
func New[V any](size int) (*Cache[V], error) {
	if size <= 0 {
		return nil, nil
	}
	l, err := lru.New[string, V](size)
	if err != nil {
		return nil, err
	}
	return &Cache[V]{lru: l}, nil
}

// Key identifies a payload classified with a given k.
func Key(data []byte, k int) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) + ":" + strconv.Itoa(k)
}

func (c *Cache[V]) Get(key string) (V, bool) {
	if c == nil {
		var zero V
		return zero, false
	}
	return c.lru.Get(key)
}

func (c *Cache[V]) Add(key string, v V) {
	if c == nil {
		return
	}
	c.lru.Add(key, v)
}

func (c *Cache[V]) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
