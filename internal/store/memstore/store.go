// Package memstore 进程内的 Store 实现，用于开发和测试
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/model/relationship"
	"github.com/zhouzirui/z-companion/backend/internal/store"
)

// Store 用 map 保存画像、记忆和转化记录
type Store struct {
	mu          sync.RWMutex
	profiles    map[string]relationship.Profile
	memories    map[string][]memory.Memory
	conversions map[string][]time.Time
}

var _ store.Store = (*Store)(nil)

// New 返回一个以给定画像初始化的空存储
func New(seed ...relationship.Profile) *Store {
	s := &Store{
		profiles:    make(map[string]relationship.Profile),
		memories:    make(map[string][]memory.Memory),
		conversions: make(map[string][]time.Time),
	}
	for _, p := range seed {
		s.profiles[p.UserID] = p
	}
	return s
}

// GetProfile 实现 store.Store
func (s *Store) GetProfile(_ context.Context, userID string) (relationship.Profile, error) {
	if userID == "" {
		return relationship.Profile{}, store.ErrUserRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		p = relationship.NewProfile(userID)
		s.profiles[userID] = p
	}
	return p, nil
}

// PutProfile 覆盖一个画像
func (s *Store) PutProfile(p relationship.Profile) {
	s.mu.Lock()
	s.profiles[p.UserID] = p
	s.mu.Unlock()
}

// UpdateTrust 实现 store.Store
func (s *Store) UpdateTrust(_ context.Context, userID string, delta float64) (float64, error) {
	if userID == "" {
		return 0, store.ErrUserRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		p = relationship.NewProfile(userID)
	}
	p.TrustLevel = relationship.ClampTrust(p.TrustLevel + delta)
	p.InteractionCount++
	s.profiles[userID] = p
	return p.TrustLevel, nil
}

// WriteMemory 实现 store.Store
func (s *Store) WriteMemory(_ context.Context, record memory.Memory) error {
	if record.UserID == "" {
		return store.ErrUserRequired
	}
	if record.Content == "" {
		return store.ErrMemoryRequired
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.Tags = append([]string(nil), record.Tags...)

	s.mu.Lock()
	s.memories[record.UserID] = append(s.memories[record.UserID], record)
	s.mu.Unlock()
	return nil
}

// FindMemories 实现 store.Store
func (s *Store) FindMemories(_ context.Context, filter memory.Filter) ([]memory.Memory, error) {
	if filter.UserID == "" {
		return nil, store.ErrUserRequired
	}

	s.mu.RLock()
	all := s.memories[filter.UserID]
	out := make([]memory.Memory, 0, len(all))
	for _, m := range all {
		if m.Significance < filter.MinSignificance {
			continue
		}
		out = append(out, m)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// RecordConversion 实现 store.Store
func (s *Store) RecordConversion(_ context.Context, userID string, at time.Time) error {
	if userID == "" {
		return store.ErrUserRequired
	}
	s.mu.Lock()
	s.conversions[userID] = append(s.conversions[userID], at)
	s.mu.Unlock()
	return nil
}

// LastConversion 实现 store.Store
func (s *Store) LastConversion(_ context.Context, userID string) (time.Time, bool, error) {
	if userID == "" {
		return time.Time{}, false, store.ErrUserRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for _, at := range s.conversions[userID] {
		if at.After(last) {
			last = at
		}
	}
	return last, !last.IsZero(), nil
}

// MemoryCount 返回 userID 的记忆条数
func (s *Store) MemoryCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memories[userID])
}

// Conversions 返回 userID 的转化触发时间
func (s *Store) Conversions(userID string) []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]time.Time(nil), s.conversions[userID]...)
}
