package orchestrator

import (
	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-companion/backend/internal/model/relationship"
	"github.com/zhouzirui/z-companion/backend/internal/service/ai"
)

// GenerationParams 生成请求的采样参数
type GenerationParams struct {
	Tier        ai.Tier
	Temperature float32
	MaxTokens   int
}

var (
	economyParams  = GenerationParams{Tier: ai.TierEconomy, Temperature: 0.8, MaxTokens: 256}
	advancedParams = GenerationParams{Tier: ai.TierAdvanced, Temperature: 0.7, MaxTokens: 512}
	crisisParams   = GenerationParams{Tier: ai.TierAdvanced, Temperature: 0.3, MaxTokens: 400}
)

// SelectTier 选择模型档位。危机轮次和付费用户使用高级模型，其余使用经济模型
func SelectTier(urgency emotion.Urgency, subscription relationship.SubscriptionTier) ai.Tier {
	return paramsFor(urgency, subscription).Tier
}

func paramsFor(urgency emotion.Urgency, subscription relationship.SubscriptionTier) GenerationParams {
	switch {
	case urgency == emotion.UrgencyCrisis:
		return crisisParams
	case subscription.Paid():
		return advancedParams
	default:
		return economyParams
	}
}
