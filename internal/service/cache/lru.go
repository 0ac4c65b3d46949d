package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRU 进程内缓存后端
type LRU struct {
	lru *expirable.LRU[string, []byte]
}

var _ Cache = (*LRU)(nil)

// NewLRU 创建有容量上限的缓存，条目在 ttl 后过期
func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = 1024
	}
	return &LRU{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get 实现 Cache
func (c *LRU) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Set 实现 Cache
func (c *LRU) Set(_ context.Context, key string, value []byte) {
	c.lru.Add(key, append([]byte(nil), value...))
}

// Len 返回存活条目数
func (c *LRU) Len() int {
	return c.lru.Len()
}
