package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-companion/backend/internal/model/relationship"
	relsvc "github.com/zhouzirui/z-companion/backend/internal/service/relationship"
)

const (
	conversionWeight          = 0.15
	defaultConversionCooldown = 24 * time.Hour
	conversionTrackedUsers    = 100_000

	emotionalPeakIntensity = 8
	deepResonanceScore     = 7.0
	highEngagementTurns    = 20
)

// ConversionTriggers 提高升级提示概率的各项信号
type ConversionTriggers struct {
	EmotionalPeak  bool `json:"emotionalPeak"`
	DeepResonance  bool `json:"deepResonance"`
	TrustMilestone bool `json:"trustMilestone"`
	HighEngagement bool `json:"highEngagement"`
}

// Count 返回命中的信号数
func (t ConversionTriggers) Count() int {
	n := 0
	for _, on := range []bool{t.EmotionalPeak, t.DeepResonance, t.TrustMilestone, t.HighEngagement} {
		if on {
			n++
		}
	}
	return n
}

// Probability 等于 Count 乘以单项权重
func (t ConversionTriggers) Probability() float64 {
	return float64(t.Count()) * conversionWeight
}

// DetectTriggers 计算本轮的转化信号
func DetectTriggers(profile relationship.Profile, a emotion.Assessment, r *relsvc.Resonance) ConversionTriggers {
	t := ConversionTriggers{
		EmotionalPeak:  a.Intensity >= emotionalPeakIntensity,
		HighEngagement: profile.InteractionCount >= highEngagementTurns,
	}
	if r != nil {
		t.DeepResonance = r.Score >= deepResonanceScore
		t.TrustMilestone = r.Milestone != ""
	}
	return t
}

// ConversionHistory 读取持久化的转化记录，用于进程重启或多副本部署时恢复冷却期。
type ConversionHistory interface {
	LastConversion(ctx context.Context, userID string) (time.Time, bool, error)
}

// ConversionEvaluator 决定是否弹出升级提示。同一用户触发后在冷却期内不会再次触发。
// 冷却状态先查进程内缓存，未命中时回源 history。
type ConversionEvaluator struct {
	mu       sync.Mutex
	rand     Rand
	now      func() time.Time
	cooldown time.Duration
	fired    *expirable.LRU[string, time.Time]
	history  ConversionHistory
}

// NewConversionEvaluator 创建评估器。r 为 nil 时永不触发；history 可为 nil。
func NewConversionEvaluator(r Rand, cooldown time.Duration, now func() time.Time, history ConversionHistory) *ConversionEvaluator {
	if cooldown <= 0 {
		cooldown = defaultConversionCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &ConversionEvaluator{
		rand:     r,
		now:      now,
		cooldown: cooldown,
		fired:    expirable.NewLRU[string, time.Time](conversionTrackedUsers, nil, cooldown),
		history:  history,
	}
}

// Evaluate 按触发概率抽签。付费用户和冷却期内的用户直接跳过，不消耗随机数。
// 读取 history 失败时保守处理，本轮不触发。
func (c *ConversionEvaluator) Evaluate(ctx context.Context, userID string, subscription relationship.SubscriptionTier, t ConversionTriggers) bool {
	if c == nil || c.rand == nil || subscription.Paid() || t.Count() == 0 {
		return false
	}

	if !c.known(userID) && c.history != nil {
		last, ok, err := c.history.LastConversion(ctx, userID)
		if err != nil {
			return false
		}
		if ok {
			c.remember(userID, last)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.fired.Get(userID); ok && now.Sub(last) < c.cooldown {
		return false
	}
	if c.rand.Float64() >= t.Probability() {
		return false
	}
	c.fired.Add(userID, now)
	return true
}

func (c *ConversionEvaluator) known(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired.Contains(userID)
}

// remember 只保留较新的时间，避免回源结果覆盖并发写入的触发记录。
func (c *ConversionEvaluator) remember(userID string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.fired.Peek(userID); ok && cur.After(at) {
		return
	}
	c.fired.Add(userID, at)
}
