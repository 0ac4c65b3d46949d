// Package memory 按重要度保存记忆，并为提示词检索最相关的几条
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/store"
)

// Config 存储与检索配置
type Config struct {
	// WriteThreshold 一轮对话需超过该重要度才会写入
	WriteThreshold float64
	// MinSignificance 检索时的重要度下限
	MinSignificance float64
	RelevanceFloor  float64
	Limit           int
	// ScanLimit 每次检索参与打分的最近记忆条数上限
	ScanLimit int
	// PrefixRunes 归一化查询中用作检索缓存键的前缀长度
	PrefixRunes int
	CacheSize   int
	CacheTTL    time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		WriteThreshold:  3,
		MinSignificance: 3,
		RelevanceFloor:  0.1,
		Limit:           3,
		ScanLimit:       50,
		PrefixRunes:     50,
		CacheSize:       2048,
		CacheTTL:        5 * time.Minute,
	}
}

// Service 记忆存储适配器
type Service struct {
	store  store.Store
	cfg    Config
	cache  *expirable.LRU[string, []memory.Memory]
	logger *zap.Logger
	now    func() time.Time
}

// NewService 创建适配器，零值字段使用默认值
func NewService(st store.Store, cfg Config, logger *zap.Logger) *Service {
	def := DefaultConfig()
	if cfg.WriteThreshold <= 0 {
		cfg.WriteThreshold = def.WriteThreshold
	}
	if cfg.MinSignificance <= 0 {
		cfg.MinSignificance = def.MinSignificance
	}
	if cfg.RelevanceFloor <= 0 {
		cfg.RelevanceFloor = def.RelevanceFloor
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = def.ScanLimit
	}
	if cfg.PrefixRunes <= 0 {
		cfg.PrefixRunes = def.PrefixRunes
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		cfg:    cfg,
		cache:  expirable.NewLRU[string, []memory.Memory](cfg.CacheSize, nil, cfg.CacheTTL),
		logger: logger.Named("memory"),
		now:    time.Now,
	}
}

// Retrieve 返回与 query 相关的至多 Limit 条记忆，相关度高的在前
func (s *Service) Retrieve(ctx context.Context, query, userID string) ([]memory.Memory, error) {
	if userID == "" {
		return nil, store.ErrUserRequired
	}
	key, ok := s.cacheKey(query, userID)
	if !ok {
		return nil, nil
	}
	if cached, hit := s.cache.Get(key); hit {
		return cloneMemories(cached), nil
	}

	candidates, err := s.store.FindMemories(ctx, memory.Filter{
		UserID:          userID,
		MinSignificance: s.cfg.MinSignificance,
		Limit:           s.cfg.ScanLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("find memories: %w", err)
	}

	queryTokens := tokenize(query)
	type scored struct {
		memory.Memory
		relevance float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, m := range candidates {
		if m.Significance < s.cfg.MinSignificance {
			continue
		}
		rel := jaccard(queryTokens, tokenize(m.Content))
		if rel < s.cfg.RelevanceFloor {
			continue
		}
		ranked = append(ranked, scored{Memory: m, relevance: rel})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.relevance != b.relevance {
			return a.relevance > b.relevance
		}
		if a.Significance != b.Significance {
			return a.Significance > b.Significance
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	if len(ranked) > s.cfg.Limit {
		ranked = ranked[:s.cfg.Limit]
	}

	out := make([]memory.Memory, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.Memory)
	}
	s.cache.Add(key, cloneMemories(out))
	return out, nil
}

// Store 重要度超过写入阈值时持久化本轮对话。
// 跳过时返回 false 和 nil 错误
func (s *Service) Store(ctx context.Context, rec memory.Memory, a emotion.Assessment) (bool, error) {
	rec.Significance = Significance(a)
	if rec.Significance <= s.cfg.WriteThreshold {
		s.logger.Debug("memory below threshold, skipped",
			zap.String("user", rec.UserID),
			zap.Float64("significance", rec.Significance))
		return false, nil
	}
	if rec.Emotion == "" {
		rec.Emotion = string(a.Emotion)
	}
	if len(rec.Tags) == 0 {
		rec.Tags = Tags(a)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	if err := s.store.WriteMemory(ctx, rec); err != nil {
		return false, fmt.Errorf("write memory: %w", err)
	}
	s.invalidate(rec.UserID)
	return true, nil
}

func (s *Service) cacheKey(query, userID string) (string, bool) {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	if normalized == "" {
		return "", false
	}
	if runes := []rune(normalized); len(runes) > s.cfg.PrefixRunes {
		normalized = string(runes[:s.cfg.PrefixRunes])
	}
	return userID + "\x00" + normalized, true
}

// invalidate 清除 userID 的检索缓存，新写入的记忆下一轮即可见
func (s *Service) invalidate(userID string) {
	prefix := userID + "\x00"
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
}

func cloneMemories(in []memory.Memory) []memory.Memory {
	if in == nil {
		return nil
	}
	out := make([]memory.Memory, len(in))
	copy(out, in)
	return out
}
