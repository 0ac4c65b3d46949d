package utils

import (
	"math/rand/v2"
	"sync"
)

// LockedRand 可并发使用的 math/rand/v2 生成器，引擎在各请求协程间共享一个实例
type LockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewLockedRand 以种子创建 PCG 生成器
func NewLockedRand(seed1, seed2 uint64) *LockedRand {
	return &LockedRand{rnd: rand.New(rand.NewPCG(seed1, seed2))}
}

// NewRandomRand 使用运行时熵源作为种子
func NewRandomRand() *LockedRand {
	return NewLockedRand(rand.Uint64(), rand.Uint64())
}

// Float64 返回 [0.0, 1.0) 内的值
func (r *LockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

// IntN 返回 [0, n) 内的值，n <= 0 时 panic
func (r *LockedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.IntN(n)
}
