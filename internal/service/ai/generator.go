package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-companion/backend/internal/config"
	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
)

// Tier 按能力和成本选择生成模型
type Tier string

const (
	TierEconomy  Tier = "economy"
	TierAdvanced Tier = "advanced"
)

// Tiers 按从便宜到强的顺序列出所有档位
var Tiers = []Tier{TierEconomy, TierAdvanced}

// Request 一次生成调用
type Request struct {
	SystemPrompt string
	History      []chat.Message
	UserMessage  string
	Tier         Tier
	Temperature  float32
	MaxTokens    int
}

// Response 生成的回复
type Response struct {
	Text       string
	TokensUsed int
}

// Generator 外部生成服务
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

var (
	// ErrEmptyReply 模型返回空文本
	ErrEmptyReply = errors.New("model returned an empty reply")
	// ErrUnavailable 由 Offline 返回
	ErrUnavailable = errors.New("no chat model configured")
)

// Offline 未配置凭证时的占位实现。每次调用都失败，调用方改用兜底回复
type Offline struct{}

// Generate implements Generator.
func (Offline) Generate(context.Context, Request) (Response, error) {
	return Response{}, ErrUnavailable
}

const historyLimit = 10

// Service 每个档位运行一条 eino 链
type Service struct {
	chains map[Tier]compose.Runnable[map[string]any, *schema.Message]
	logger *zap.Logger
}

var _ Generator = (*Service)(nil)

// NewService 为每个已配置的档位创建 Ark 聊天模型
func NewService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	names := map[Tier]string{
		TierEconomy:  cfg.EconomyModel,
		TierAdvanced: cfg.AdvancedModel,
	}
	models := make(map[Tier]model.BaseChatModel, len(names))
	built := make(map[string]model.BaseChatModel, len(names))
	for tier, name := range names {
		if name == "" {
			continue
		}
		if m, ok := built[name]; ok {
			models[tier] = m
			continue
		}
		m, err := cfg.NewChatModel(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s chat model: %w", tier, err)
		}
		built[name] = m
		models[tier] = m
	}
	return NewServiceWithModels(ctx, models, logger)
}

// NewServiceWithModels 为每个传入的模型编译一条链。
// 没有模型的档位退回最近的低档位，再退回任意档位
func NewServiceWithModels(ctx context.Context, models map[Tier]model.BaseChatModel, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		chains: make(map[Tier]compose.Runnable[map[string]any, *schema.Message], len(models)),
		logger: logger.Named("ai"),
	}
	for tier, chatModel := range models {
		promptTemplate := prompt.FromMessages(
			schema.FString,
			schema.SystemMessage("{system}"),
			schema.MessagesPlaceholder("history", true),
			schema.UserMessage("{query}"),
		)

		chain := compose.NewChain[map[string]any, *schema.Message]()
		chain.AppendChatTemplate(promptTemplate)
		chain.AppendChatModel(chatModel)

		runnable, err := chain.Compile(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s chain: %w", tier, err)
		}
		s.chains[tier] = runnable
	}
	if len(s.chains) == 0 {
		return nil, errors.New("at least one chat model is required")
	}
	return s, nil
}

func (s *Service) chainFor(tier Tier) (compose.Runnable[map[string]any, *schema.Message], Tier) {
	start := len(Tiers) - 1
	for i, t := range Tiers {
		if t == tier {
			start = i
			break
		}
	}
	for i := start; i >= 0; i-- {
		if c, ok := s.chains[Tiers[i]]; ok {
			return c, Tiers[i]
		}
	}
	for _, t := range Tiers {
		if c, ok := s.chains[t]; ok {
			return c, t
		}
	}
	return nil, tier
}

// Generate implements Generator.
func (s *Service) Generate(ctx context.Context, req Request) (Response, error) {
	chain, used := s.chainFor(req.Tier)
	if chain == nil {
		return Response{}, fmt.Errorf("no chat model for tier %s", req.Tier)
	}

	var modelOpts []model.Option
	if req.Temperature > 0 {
		modelOpts = append(modelOpts, model.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		modelOpts = append(modelOpts, model.WithMaxTokens(req.MaxTokens))
	}

	input := map[string]any{
		"system":  req.SystemPrompt,
		"history": buildHistoryMessages(req.History),
		"query":   req.UserMessage,
	}

	var opts []compose.Option
	if len(modelOpts) > 0 {
		opts = append(opts, compose.WithChatModelOption(modelOpts...))
	}
	msg, err := chain.Invoke(ctx, input, opts...)
	if err != nil {
		return Response{}, fmt.Errorf("failed to run %s chain: %w", used, err)
	}
	if msg == nil || msg.Content == "" {
		return Response{}, ErrEmptyReply
	}

	resp := Response{Text: msg.Content}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		resp.TokensUsed = msg.ResponseMeta.Usage.TotalTokens
	}
	s.logger.Debug("generated reply",
		zap.String("tier", string(used)),
		zap.Int("length", len(resp.Text)),
		zap.Int("tokens", resp.TokensUsed))
	return resp, nil
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
