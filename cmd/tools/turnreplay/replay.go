package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/modulation"
	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/model/relationship"
	"github.com/zhouzirui/z-companion/backend/internal/service/ai"
	"github.com/zhouzirui/z-companion/backend/internal/service/cache"
	"github.com/zhouzirui/z-companion/backend/internal/service/memory"
	"github.com/zhouzirui/z-companion/backend/internal/service/orchestrator"
	relsvc "github.com/zhouzirui/z-companion/backend/internal/service/relationship"
	"github.com/zhouzirui/z-companion/backend/internal/store/memstore"
	"github.com/zhouzirui/z-companion/backend/pkg/utils"
)

// Scenario 回放的 YAML 输入
type Scenario struct {
	UserID       string                        `yaml:"userId"`
	PersonaID    string                        `yaml:"personaId"`
	Subscription relationship.SubscriptionTier `yaml:"subscription"`
	Trust        float64                       `yaml:"trust"`
	Interactions int                           `yaml:"interactions"`
	// Session 开启跨轮次的表达调制
	Session string `yaml:"session"`
	Seed    *int64 `yaml:"seed"`
	Turns   []Turn `yaml:"turns"`
}

// Turn 一句用户输入以及生成器应给出的回复
type Turn struct {
	Message string `yaml:"message"`
	Reply   string `yaml:"reply"`
	// Fail 让生成器在这一轮返回错误
	Fail bool `yaml:"fail"`
}

// Report 每轮输出的遥测
type Report struct {
	Turn        int      `yaml:"turn"`
	Message     string   `yaml:"message"`
	Reply       string   `yaml:"reply"`
	Emotion     string   `yaml:"emotion"`
	Intensity   int      `yaml:"intensity"`
	Crisis      bool     `yaml:"crisis"`
	Tier        ai.Tier  `yaml:"tier"`
	Cached      bool     `yaml:"cached"`
	Fallback    bool     `yaml:"fallback"`
	DelayMS     int      `yaml:"delayMs"`
	Resonance   float64  `yaml:"resonance"`
	Milestone   string   `yaml:"milestone,omitempty"`
	Stage       string   `yaml:"stage"`
	Trust       float64  `yaml:"trust"`
	Memories    int      `yaml:"memories"`
	AIEmotion   string   `yaml:"aiEmotion,omitempty"`
	Enrichments []string `yaml:"enrichments,omitempty"`
	Conversion  bool     `yaml:"conversion"`
}

// LoadScenario 读取并校验场景文件
func LoadScenario(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(raw)
}

// ParseScenario 解析 YAML 并填充默认值
func ParseScenario(raw []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if len(sc.Turns) == 0 {
		return Scenario{}, errors.New("scenario has no turns")
	}
	for i, t := range sc.Turns {
		if strings.TrimSpace(t.Message) == "" {
			return Scenario{}, fmt.Errorf("turn %d: message is required", i+1)
		}
	}
	if sc.UserID == "" {
		sc.UserID = "replay-user"
	}
	if sc.Subscription == "" {
		sc.Subscription = relationship.TierFree
	}
	return sc, nil
}

// scriptedGenerator 按场景顺序给出回复
type scriptedGenerator struct {
	mu    sync.Mutex
	turns []Turn
	next  int
}

func (g *scriptedGenerator) Generate(context.Context, ai.Request) (ai.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next >= len(g.turns) {
		return ai.Response{}, errors.New("script exhausted")
	}
	t := g.turns[g.next]
	g.next++
	if t.Fail {
		return ai.Response{}, errors.New("scripted failure")
	}
	reply := t.Reply
	if reply == "" {
		reply = "I hear you."
	}
	return ai.Response{Text: reply, TokensUsed: len(strings.Fields(reply))}, nil
}

// skip 引擎未调用生成器时保持脚本对齐
func (g *scriptedGenerator) skip(to int) {
	g.mu.Lock()
	g.next = max(g.next, to)
	g.mu.Unlock()
}

// Replay 依次执行每一轮，并在下一轮之前等待副作用完成
func Replay(ctx context.Context, sc Scenario, verbose bool) ([]Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := zap.NewNop()
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		logger = l
	}

	profile := relationship.NewProfile(sc.UserID)
	profile.PersonaID = sc.PersonaID
	profile.Subscription = sc.Subscription
	profile.TrustLevel = relationship.ClampTrust(sc.Trust)
	profile.InteractionCount = sc.Interactions
	st := memstore.New(profile)

	var rnd orchestrator.Rand
	if sc.Seed != nil {
		rnd = utils.NewLockedRand(uint64(*sc.Seed), uint64(*sc.Seed))
	}

	queue := orchestrator.NewQueue(orchestrator.QueueConfig{Workers: 1, QueueSize: 64}, logger)
	defer queue.Stop()

	gen := &scriptedGenerator{turns: sc.Turns}
	tracker := relsvc.NewTracker(st, 64, time.Hour, logger)
	engine, err := orchestrator.New(orchestrator.Deps{
		Memory:       memory.NewService(st, memory.DefaultConfig(), logger),
		Relationship: tracker,
		Generator:    gen,
		Queue:        queue,
		Cache:        cache.NewLRU(256, time.Hour),
		Conversions:  st,
		Modulation:   modulation.NewRegistry(16, time.Hour, modulation.DefaultOptions()),
		Logger:       logger,
	}, orchestrator.Options{Rand: rnd})
	if err != nil {
		return nil, err
	}

	var history []chat.Message
	reports := make([]Report, 0, len(sc.Turns))
	for i, t := range sc.Turns {
		res, err := engine.Respond(ctx, orchestrator.Request{
			Message:   t.Message,
			UserID:    sc.UserID,
			SessionID: sc.Session,
			PersonaID: sc.PersonaID,
			History:   history,
		})
		if err != nil {
			return reports, fmt.Errorf("turn %d: %w", i+1, err)
		}
		gen.skip(i + 1)
		if err := queue.Flush(ctx); err != nil {
			return reports, fmt.Errorf("turn %d: flush: %w", i+1, err)
		}

		after, err := st.GetProfile(ctx, sc.UserID)
		if err != nil {
			return reports, err
		}

		r := Report{
			Turn:        i + 1,
			Message:     t.Message,
			Reply:       res.Content,
			Emotion:     string(res.Sentiment.Emotion),
			Intensity:   res.Sentiment.Intensity,
			Crisis:      res.Crisis,
			Tier:        res.Tier,
			Cached:      res.Cached,
			Fallback:    res.Fallback,
			DelayMS:     res.SuggestedDelay,
			Stage:       after.Stage().String(),
			Trust:       after.TrustLevel,
			Memories:    st.MemoryCount(sc.UserID),
			Enrichments: res.Enrichments,
			Conversion:  res.ShouldTriggerConversion,
		}
		if res.Resonance != nil {
			r.Resonance = res.Resonance.Score
			r.Milestone = res.Resonance.Milestone
		}
		if res.Modulation != nil {
			r.AIEmotion = string(res.Modulation.AIEmotion)
		}
		reports = append(reports, r)

		history = append(history,
			chat.Message{Role: chat.RoleUser, Content: t.Message},
			chat.Message{Role: chat.RoleAssistant, Content: res.Content})
	}
	return reports, nil
}

// Render 以对齐表格或 YAML 输出报告
func Render(w io.Writer, format string, reports []Report) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(reports); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TURN\tEMOTION\tTIER\tTRUST\tSTAGE\tRESONANCE\tFLAGS\tREPLY")
		for _, r := range reports {
			fmt.Fprintf(tw, "%d\t%s/%d\t%s\t%.1f\t%s\t%.2f\t%s\t%s\n",
				r.Turn, r.Emotion, r.Intensity, r.Tier, r.Trust, r.Stage, r.Resonance, flags(r), oneLine(r.Reply))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func flags(r Report) string {
	var out []string
	if r.Crisis {
		out = append(out, "crisis")
	}
	if r.Cached {
		out = append(out, "cached")
	}
	if r.Fallback {
		out = append(out, "fallback")
	}
	if r.Conversion {
		out = append(out, "conversion")
	}
	if r.Milestone != "" {
		out = append(out, "milestone:"+r.Milestone)
	}
	out = append(out, r.Enrichments...)
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ",")
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return s
}
