package modulation

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Registry 为每个活跃会话保存一个 Engine。空闲会话会过期，再次出现时从中性向量重新开始
type Registry struct {
	mu      sync.Mutex
	engines *expirable.LRU[string, *Engine]
	opts    Options
}

// NewRegistry 创建最多保存 size 个会话、每个存活 ttl 的注册表
func NewRegistry(size int, ttl time.Duration, opts Options) *Registry {
	if size <= 0 {
		size = 1024
	}
	return &Registry{
		engines: expirable.NewLRU[string, *Engine](size, nil, ttl),
		opts:    opts,
	}
}

// Session 返回 sessionID 对应的引擎，首次使用时创建
func (r *Registry) Session(sessionID string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines.Get(sessionID); ok {
		return e
	}
	e := NewEngine(r.opts)
	r.engines.Add(sessionID, e)
	return e
}

// Len 返回存活的会话数
func (r *Registry) Len() int {
	return r.engines.Len()
}
