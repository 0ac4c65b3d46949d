package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-companion/backend/internal/analysis/modulation"
	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
	"github.com/zhouzirui/z-companion/backend/internal/model/relationship"
	"github.com/zhouzirui/z-companion/backend/internal/service/ai"
	"github.com/zhouzirui/z-companion/backend/internal/service/cache"
	relsvc "github.com/zhouzirui/z-companion/backend/internal/service/relationship"
)

var (
	ErrMessageRequired = errors.New("message is required")
	ErrUserRequired    = errors.New("user id is required")
)

// CrisisResourceBlock 危机回复末尾原样追加的求助资源
const CrisisResourceBlock = "\n\nIf you are thinking about ending your life or hurting yourself, please reach out for help right now. " +
	"In the US you can call or text 988 (Suicide & Crisis Lifeline). In the UK and Ireland you can call Samaritans on 116 123. " +
	"Elsewhere, findahelpline.com lists free, confidential lines near you. " +
	"If you are in immediate danger, please call your local emergency number."

const (
	// FallbackReply 生成失败或超时时的兜底回复
	FallbackReply = "I'm here with you. I lost my train of thought for a second, could you tell me a little more?"
	// CrisisSafeReply 危机回复生成失败时使用
	CrisisSafeReply = "I'm really glad you told me. What you're feeling matters, and you don't have to face it alone. Are you safe right now?"
)

const (
	baseDelayMS    = 500
	perRuneDelayMS = 15
	maxDelayMS     = 3000

	defaultGenerationTimeout = 20 * time.Second
)

// SentimentAnalyzer 情绪分析器
type SentimentAnalyzer interface {
	Analyze(text string, history []chat.Message) emotion.Assessment
	CrisisOnly(text string, history []chat.Message) emotion.Crisis
}

// MemoryService 按重要度检索和写入记忆
type MemoryService interface {
	Retrieve(ctx context.Context, query, userID string) ([]memory.Memory, error)
	Store(ctx context.Context, rec memory.Memory, a emotion.Assessment) (bool, error)
}

// RelationshipService 加载用户画像、计算共鸣并调整信任度
type RelationshipService interface {
	Profile(ctx context.Context, userID string) (relationship.Profile, error)
	ComputeResonance(profile relationship.Profile, a emotion.Assessment, current string, history []chat.Message) relsvc.Resonance
	LastResonance(userID string) (relsvc.Resonance, bool)
	ApplyTrustDelta(ctx context.Context, userID string, delta float64) error
}

// ConversionRecorder 持久化升级提示的触发记录，并能读回最近一次记录。
type ConversionRecorder interface {
	ConversionHistory
	RecordConversion(ctx context.Context, userID string, at time.Time) error
}

// Request 一轮用户输入
type Request struct {
	Message   string         `json:"message"`
	UserID    string         `json:"userId"`
	SessionID string         `json:"sessionId,omitempty"`
	PersonaID string         `json:"personaId,omitempty"`
	History   []chat.Message `json:"history,omitempty"`
}

// Result 一轮对话的同步结果
type Result struct {
	Content                 string                 `json:"content"`
	Sentiment               emotion.Assessment     `json:"sentiment"`
	SuggestedDelay          int                    `json:"suggestedDelay"`
	Resonance               *relsvc.Resonance      `json:"resonance,omitempty"`
	Modulation              *modulation.Parameters `json:"modulation,omitempty"`
	ShouldTriggerConversion bool                   `json:"shouldTriggerConversion"`
	PersonaID               string                 `json:"personaId"`
	Tier                    ai.Tier                `json:"tier"`
	TokensUsed              int                    `json:"tokensUsed,omitempty"`
	Enrichments             []string               `json:"enrichments,omitempty"`
	Cached                  bool                   `json:"cached"`
	Fallback                bool                   `json:"fallback,omitempty"`
	Crisis                  bool                   `json:"crisis,omitempty"`
}

// Deps Engine 的依赖
type Deps struct {
	Analyzer     SentimentAnalyzer
	Memory       MemoryService
	Relationship RelationshipService
	Generator    ai.Generator
	Queue        *Queue

	// 可选
	Cache       cache.Cache
	Conversions ConversionRecorder
	Personas    persona.Store
	Prompts     *ai.PromptBuilder
	Modulation  *modulation.Registry
	Logger      *zap.Logger
}

// Options Engine 配置
type Options struct {
	GenerationTimeout  time.Duration
	ConversionCooldown time.Duration
	// Rand 驱动润色与转化抽签，为 nil 时两者都关闭
	Rand Rand
	Now  func() time.Time
}

// Engine 负责把一句用户输入变成回复和遥测数据，并把本轮的副作用放入队列
type Engine struct {
	analyzer     SentimentAnalyzer
	memory       MemoryService
	relationship RelationshipService
	generator    ai.Generator
	queue        *Queue
	cache        cache.Cache
	conversions  ConversionRecorder
	personas     persona.Store
	prompts      *ai.PromptBuilder
	modulation   *modulation.Registry
	enricher     *Enricher
	evaluator    *ConversionEvaluator
	timeout      time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// New 组装 Engine
func New(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Generator == nil:
		return nil, errors.New("orchestrator: generator is required")
	case deps.Memory == nil:
		return nil, errors.New("orchestrator: memory service is required")
	case deps.Relationship == nil:
		return nil, errors.New("orchestrator: relationship service is required")
	case deps.Queue == nil:
		return nil, errors.New("orchestrator: persist queue is required")
	}
	if deps.Analyzer == nil {
		deps.Analyzer = emotion.NewAnalyzer()
	}
	if deps.Personas == nil {
		deps.Personas = persona.NewMemoryStore(persona.Seed())
	}
	if deps.Prompts == nil {
		deps.Prompts = ai.NewPromptBuilder()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = defaultGenerationTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	var history ConversionHistory
	if deps.Conversions != nil {
		history = deps.Conversions
	}

	return &Engine{
		analyzer:     deps.Analyzer,
		memory:       deps.Memory,
		relationship: deps.Relationship,
		generator:    deps.Generator,
		queue:        deps.Queue,
		cache:        deps.Cache,
		conversions:  deps.Conversions,
		personas:     deps.Personas,
		prompts:      deps.Prompts,
		modulation:   deps.Modulation,
		enricher:     NewEnricher(opts.Rand),
		evaluator:    NewConversionEvaluator(opts.Rand, opts.ConversionCooldown, opts.Now, history),
		timeout:      opts.GenerationTimeout,
		now:          opts.Now,
		logger:       deps.Logger.Named("orchestrator"),
	}, nil
}

// Respond 执行一轮对话。只返回请求校验错误，下游的任何失败都在 Result 内降级处理
func (e *Engine) Respond(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrMessageRequired
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrUserRequired
	}
	start := time.Now()

	pre, screened := e.screen(req)
	if screened && !pre.IsCrisis() {
		if res, ok := e.fromCache(ctx, req); ok {
			e.logger.Debug("cache hit", zap.String("userId", req.UserID), zap.Duration("took", time.Since(start)))
			return res, nil
		}
	}

	turn := e.fanout(ctx, req)
	turn.assessment = withCrisis(turn.assessment, pre)
	turn.cacheable = screened && turn.analyzed
	p := persona.Resolve(e.personas, firstNonEmpty(req.PersonaID, turn.profile.PersonaID))

	var res *Result
	if turn.assessment.Urgency == emotion.UrgencyCrisis {
		res = e.respondCrisis(ctx, req, turn, p)
	} else {
		res = e.respondNormal(ctx, req, turn, p)
	}

	e.logger.Debug("turn complete",
		zap.String("userId", req.UserID),
		zap.String("emotion", string(res.Sentiment.Emotion)),
		zap.String("urgency", string(res.Sentiment.Urgency)),
		zap.String("tier", string(res.Tier)),
		zap.Bool("fallback", res.Fallback),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

// screen 在读取缓存之前单独跑一遍危机检测。检测本身失败时 ok 为 false，
// 此时本轮既不读缓存也不写缓存。
func (e *Engine) screen(req Request) (crisis emotion.Crisis, ok bool) {
	e.guard("crisis", req.UserID, func() {
		crisis = e.analyzer.CrisisOnly(req.Message, req.History)
		ok = true
	})
	return crisis, ok
}

// withCrisis 把预检结果并入分析结果：严重度取最大值，达到阈值即为危机。
// 分析分支失败退回中性评估时，预检的结论依然生效。
func withCrisis(a emotion.Assessment, pre emotion.Crisis) emotion.Assessment {
	a.Crisis = a.Crisis.Merge(pre)
	if a.Crisis.IsCrisis() {
		a.Urgency = emotion.UrgencyCrisis
	}
	return a
}

// fromCache 返回之前缓存的结果。需要实时信息的消息不走缓存；调用方保证
// 危机预检已通过。
func (e *Engine) fromCache(ctx context.Context, req Request) (*Result, bool) {
	if e.cache == nil || cache.FreshnessRequired(req.Message) {
		return nil, false
	}

	payload, ok := e.cache.Get(ctx, cache.Key(req.Message, req.UserID))
	if !ok {
		return nil, false
	}
	var res Result
	if err := sonic.Unmarshal(payload, &res); err != nil {
		e.logger.Warn("discarding unreadable cache entry", zap.Error(err))
		return nil, false
	}

	res.Cached = true
	res.ShouldTriggerConversion = false
	res.Modulation = nil
	e.modulate(req, &res, e.cachedStage(req.UserID, res.Resonance), persona.Resolve(e.personas, firstNonEmpty(req.PersonaID, res.PersonaID)).Personality)
	return &res, true
}

// cachedStage 优先使用该用户最近一次计算的共鸣阶段，缓存条目里的阶段可能已经过时。
func (e *Engine) cachedStage(userID string, cached *relsvc.Resonance) relationship.Stage {
	if last, ok := e.relationship.LastResonance(userID); ok {
		return last.Stage
	}
	if cached != nil {
		return cached.Stage
	}
	return relationship.FirstContact
}

type turnState struct {
	assessment emotion.Assessment
	memories   []memory.Memory
	profile    relationship.Profile
	resonance  *relsvc.Resonance
	// analyzed 为 false 表示分析分支失败，assessment 是兜底值。
	analyzed bool
	// cacheable 要求危机预检与分析分支都成功。
	cacheable bool
}

// fanout 并发执行情绪分析、记忆检索和画像/共鸣三个分支。
// 每个分支失败时退回默认值，不会让整组失败
func (e *Engine) fanout(ctx context.Context, req Request) turnState {
	turn := turnState{
		assessment: emotion.NeutralAssessment(),
		profile:    relationship.NewProfile(req.UserID),
	}
	analyzed := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(analyzed)
		e.guard("analyzer", req.UserID, func() {
			turn.assessment = e.analyzer.Analyze(req.Message, req.History)
			turn.analyzed = true
		})
		return nil
	})

	g.Go(func() error {
		e.guard("memory", req.UserID, func() {
			memories, err := e.memory.Retrieve(gctx, req.Message, req.UserID)
			if err != nil {
				e.logger.Warn("memory retrieval failed", zap.String("userId", req.UserID), zap.Error(err))
				return
			}
			turn.memories = memories
		})
		return nil
	})

	g.Go(func() error {
		loaded := false
		e.guard("profile", req.UserID, func() {
			profile, err := e.relationship.Profile(gctx, req.UserID)
			if err != nil {
				e.logger.Warn("profile load failed", zap.String("userId", req.UserID), zap.Error(err))
				return
			}
			turn.profile = profile
			loaded = true
		})

		<-analyzed
		if !loaded {
			return nil
		}
		e.guard("resonance", req.UserID, func() {
			r := e.relationship.ComputeResonance(turn.profile, turn.assessment, req.Message, req.History)
			turn.resonance = &r
		})
		return nil
	})

	_ = g.Wait()
	return turn
}

func (e *Engine) respondNormal(ctx context.Context, req Request, turn turnState, p persona.Persona) *Result {
	a := turn.assessment
	params := paramsFor(a.Urgency, turn.profile.Subscription)
	system := e.prompts.BuildSystemPrompt(ai.PromptContext{
		Persona:    p,
		Profile:    turn.profile,
		Assessment: a,
		Memories:   turn.memories,
		Resonance:  turn.resonance,
	})

	res := &Result{
		Sentiment: a,
		Resonance: turn.resonance,
		PersonaID: p.ID,
		Tier:      params.Tier,
	}

	resp, err := e.generate(ctx, ai.Request{
		SystemPrompt: system,
		History:      req.History,
		UserMessage:  req.Message,
		Tier:         params.Tier,
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
	})
	if err != nil {
		e.logger.Warn("generation failed, using fallback reply", zap.String("userId", req.UserID), zap.Error(err))
		res.Content = FallbackReply
		res.Fallback = true
	} else {
		res.TokensUsed = resp.TokensUsed
		res.Content, res.Enrichments = e.enricher.Enrich(resp.Text, EnrichInput{
			Personality: p.Personality,
			Emotion:     a.Emotion,
			Memories:    turn.memories,
		})
		triggers := DetectTriggers(turn.profile, a, turn.resonance)
		res.ShouldTriggerConversion = e.evaluator.Evaluate(ctx, req.UserID, turn.profile.Subscription, triggers)
	}
	res.SuggestedDelay = SuggestedDelay(res.Content, a.Urgency)

	var payload []byte
	if !res.Fallback && turn.cacheable && e.cache != nil && !cache.FreshnessRequired(req.Message) {
		cached := *res
		cached.ShouldTriggerConversion = false
		if payload, err = sonic.Marshal(&cached); err != nil {
			e.logger.Warn("encode cache entry failed", zap.Error(err))
			payload = nil
		}
	}

	e.modulate(req, res, turn.profile.Stage(), p.Personality)
	e.persist(req, res, turn, payload)
	return res
}

// respondCrisis 危机路径到此结束，跳过润色和缓存，也不触发转化
func (e *Engine) respondCrisis(ctx context.Context, req Request, turn turnState, p persona.Persona) *Result {
	res := &Result{
		Sentiment:      turn.assessment,
		Resonance:      turn.resonance,
		PersonaID:      p.ID,
		Tier:           crisisParams.Tier,
		SuggestedDelay: 0,
		Crisis:         true,
	}

	resp, err := e.generate(ctx, ai.Request{
		SystemPrompt: e.prompts.BuildCrisisPrompt(p),
		History:      req.History,
		UserMessage:  req.Message,
		Tier:         crisisParams.Tier,
		Temperature:  crisisParams.Temperature,
		MaxTokens:    crisisParams.MaxTokens,
	})
	content := strings.TrimSpace(resp.Text)
	if err != nil || content == "" {
		e.logger.Error("crisis generation failed, using safe reply", zap.String("userId", req.UserID), zap.Error(err))
		content = CrisisSafeReply
		res.Fallback = true
	}
	res.TokensUsed = resp.TokensUsed
	res.Content = content + CrisisResourceBlock

	e.logger.Warn("crisis turn",
		zap.String("userId", req.UserID),
		zap.Int("severity", turn.assessment.Crisis.Severity),
		zap.Strings("indicators", turn.assessment.Crisis.Indicators))

	e.modulate(req, res, turn.profile.Stage(), p.Personality)
	e.persist(req, res, turn, nil)
	return res
}

func (e *Engine) generate(ctx context.Context, req ai.Request) (resp ai.Response, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panicked: %v", r)
		}
	}()
	return e.generator.Generate(ctx, req)
}

func (e *Engine) modulate(req Request, res *Result, stage relationship.Stage, p persona.Personality) {
	if e.modulation == nil || req.SessionID == "" {
		return
	}
	params := e.modulation.Session(req.SessionID).Next(res.Content, modulation.ContextFrom(res.Sentiment, stage, p))
	res.Modulation = &params
}

// persist 把本轮的副作用放入队列。cachePayload 为 nil 表示结果不能缓存
func (e *Engine) persist(req Request, res *Result, turn turnState, cachePayload []byte) {
	userID := req.UserID
	a := turn.assessment

	rec := memory.Memory{
		UserID:   userID,
		Content:  req.Message,
		Response: res.Content,
		Emotion:  string(a.Emotion),
	}
	e.queue.Submit(Task{Kind: TaskMemoryWrite, UserID: userID, Run: func(ctx context.Context) error {
		_, err := e.memory.Store(ctx, rec, a)
		return err
	}})

	delta := relsvc.TrustDelta(a, turn.resonance)
	e.queue.Submit(Task{Kind: TaskTrustUpdate, UserID: userID, Run: func(ctx context.Context) error {
		return e.relationship.ApplyTrustDelta(ctx, userID, delta)
	}})

	if cachePayload != nil {
		key := cache.Key(req.Message, userID)
		e.queue.Submit(Task{Kind: TaskCacheStore, UserID: userID, Run: func(ctx context.Context) error {
			e.cache.Set(ctx, key, cachePayload)
			return nil
		}})
	}

	if res.ShouldTriggerConversion && e.conversions != nil {
		at := e.now()
		e.queue.Submit(Task{Kind: TaskConversionRecord, UserID: userID, Run: func(ctx context.Context) error {
			return e.conversions.RecordConversion(ctx, userID, at)
		}})
	}
}

// guard 执行 fn，把 panic 转成一条分支失败日志
func (e *Engine) guard(branch, userID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("fanout branch panicked",
				zap.String("branch", branch),
				zap.String("userId", userID),
				zap.Any("panic", r))
		}
	}()
	fn()
}

// SuggestedDelay 客户端展示回复前的打字延迟（毫秒）。
// 危机回复立即展示，高紧急度减半
func SuggestedDelay(content string, urgency emotion.Urgency) int {
	if urgency == emotion.UrgencyCrisis {
		return 0
	}
	d := min(maxDelayMS, baseDelayMS+perRuneDelayMS*utf8.RuneCountInString(content))
	if urgency == emotion.UrgencyHigh {
		d /= 2
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
