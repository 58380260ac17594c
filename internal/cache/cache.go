// Package cache 包裝 golang-lru 的 ARC 快取。
package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// Cache 鍵值快取
type Cache interface {
	Get(key interface{}) (interface{}, bool)
	Add(key, value interface{})
	Delete(key interface{})
	Len() int
}

var _ Cache = (*LRU)(nil)

// LRU ARC 快取（兼顧最近使用與使用頻率）
type LRU struct {
	cache *lru.ARCCache
}

// NewLRU 建立容量為 size 的快取。
func NewLRU(size int) (*LRU, error) {
	c, err := lru.NewARC(size)
	if err != nil {
		return nil, fmt.Errorf("lru new instance of arc cache: %w", err)
	}

	return &LRU{cache: c}, nil
}

func (c *LRU) Get(key interface{}) (interface{}, bool) {
	return c.cache.Get(key)
}

func (c *LRU) Add(key, value interface{}) {
	c.cache.Add(key, value)
}

func (c *LRU) Delete(key interface{}) {
	c.cache.Remove(key)
}

func (c *LRU) Len() int {
	return c.cache.Len()
}
