// Package relationship 计算单轮共鸣，并把信任度调整写回持久化存储
package relationship

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	model "github.com/zhouzirui/z-companion/backend/internal/model/relationship"
	"github.com/zhouzirui/z-companion/backend/internal/store"
)

// Tracker 负责共鸣评分和信任度更新。每个用户最近一次的共鸣只缓存在进程内，不落库
type Tracker struct {
	store  store.Store
	last   *expirable.LRU[string, Resonance]
	logger *zap.Logger
}

// NewTracker 创建追踪器，共鸣缓存使用给定的容量和 TTL
func NewTracker(st store.Store, cacheSize int, ttl time.Duration, logger *zap.Logger) *Tracker {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:  st,
		last:   expirable.NewLRU[string, Resonance](cacheSize, nil, ttl),
		logger: logger.Named("relationship"),
	}
}

// Profile 直接从存储读取用户画像
func (t *Tracker) Profile(ctx context.Context, userID string) (model.Profile, error) {
	p, err := t.store.GetProfile(ctx, userID)
	if err != nil {
		return model.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// ComputeResonance 给本轮打分并记为该用户最近一次的共鸣
func (t *Tracker) ComputeResonance(profile model.Profile, a emotion.Assessment, current string, history []chat.Message) Resonance {
	r := Compute(profile, a, current, history)
	if profile.UserID != "" {
		t.last.Add(profile.UserID, r)
	}
	return r
}

// LastResonance 返回 userID 最近一次缓存的共鸣
func (t *Tracker) LastResonance(userID string) (Resonance, bool) {
	return t.last.Get(userID)
}

// ApplyTrustDelta 调整用户信任度。只由持久化队列调用，调用方记录日志后丢弃错误
func (t *Tracker) ApplyTrustDelta(ctx context.Context, userID string, delta float64) error {
	before, err := t.store.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}
	trust, err := t.store.UpdateTrust(ctx, userID, delta)
	if err != nil {
		return fmt.Errorf("update trust: %w", err)
	}
	if after := model.StageFor(trust); after != before.Stage() {
		t.logger.Info("relationship stage changed",
			zap.String("user", userID),
			zap.Stringer("from", before.Stage()),
			zap.Stringer("to", after),
			zap.Float64("trust", trust))
	}
	return nil
}
