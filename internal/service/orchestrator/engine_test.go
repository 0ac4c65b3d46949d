package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-companion/backend/internal/analysis/modulation"
	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/model/relationship"
	"github.com/zhouzirui/z-companion/backend/internal/service/ai"
	"github.com/zhouzirui/z-companion/backend/internal/service/cache"
	memsvc "github.com/zhouzirui/z-companion/backend/internal/service/memory"
	relsvc "github.com/zhouzirui/z-companion/backend/internal/service/relationship"
	"github.com/zhouzirui/z-companion/backend/internal/store/memstore"
)

const (
	greeting   = "Hello, how are you today?"
	endOfLife  = "I want to end my life"
	disclosure = "Honestly, I feel like I've never told anyone this, but I have been struggling with how much I miss home."
)

type scriptedGenerator struct {
	mu       sync.Mutex
	reply    string
	err      error
	delay    time.Duration
	requests []ai.Request
}

func (g *scriptedGenerator) Generate(ctx context.Context, req ai.Request) (ai.Response, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	reply, err, delay := g.reply, g.err, g.delay
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ai.Response{}, ctx.Err()
		}
	}
	if err != nil {
		return ai.Response{}, err
	}
	return ai.Response{Text: reply, TokensUsed: 42}, nil
}

func (g *scriptedGenerator) calls() []ai.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ai.Request(nil), g.requests...)
}

type constRand float64

func (c constRand) Float64() float64 { return float64(c) }
func (c constRand) IntN(int) int     { return 0 }

type panickingMemory struct{}

func (panickingMemory) Retrieve(context.Context, string, string) ([]memory.Memory, error) {
	panic("vector index unavailable")
}

func (panickingMemory) Store(context.Context, memory.Memory, emotion.Assessment) (bool, error) {
	return false, nil
}

type failingMemory struct{ panickingMemory }

func (failingMemory) Retrieve(context.Context, string, string) ([]memory.Memory, error) {
	return nil, errors.New("connection refused")
}

type harness struct {
	engine *Engine
	store  *memstore.Store
	cache  *cache.LRU
	queue  *Queue
	gen    *scriptedGenerator

	mu    sync.Mutex
	kinds []TaskKind
}

type harnessOption func(*Deps, *Options)

func withRand(r Rand) harnessOption {
	return func(_ *Deps, o *Options) { o.Rand = r }
}

func withMemory(m MemoryService) harnessOption {
	return func(d *Deps, _ *Options) { d.Memory = m }
}

func withAnalyzer(a SentimentAnalyzer) harnessOption {
	return func(d *Deps, _ *Options) { d.Analyzer = a }
}

func withTracker(wrap func(*relsvc.Tracker) RelationshipService) harnessOption {
	return func(d *Deps, _ *Options) { d.Relationship = wrap(d.Relationship.(*relsvc.Tracker)) }
}

type crashingAnalyzer struct{ *emotion.Analyzer }

func (crashingAnalyzer) Analyze(string, []chat.Message) emotion.Assessment {
	panic("classifier crashed")
}

type crashingScreen struct{ *emotion.Analyzer }

func (crashingScreen) CrisisOnly(string, []chat.Message) emotion.Crisis {
	panic("detector crashed")
}

type profileOutage struct{ *relsvc.Tracker }

func (profileOutage) Profile(context.Context, string) (relationship.Profile, error) {
	return relationship.Profile{}, errors.New("db timeout")
}

type crashingResonance struct{ *relsvc.Tracker }

func (crashingResonance) ComputeResonance(relationship.Profile, emotion.Assessment, string, []chat.Message) relsvc.Resonance {
	panic("history index out of range")
}

type stageLookup struct {
	*relsvc.Tracker
	mu      sync.Mutex
	lookups []string
}

func (s *stageLookup) LastResonance(userID string) (relsvc.Resonance, bool) {
	s.mu.Lock()
	s.lookups = append(s.lookups, userID)
	s.mu.Unlock()
	return s.Tracker.LastResonance(userID)
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store: memstore.New(),
		cache: cache.NewLRU(64, time.Minute),
		gen:   &scriptedGenerator{reply: "I'm doing well, thanks for asking."},
	}
	h.queue = NewQueue(QueueConfig{Workers: 2, QueueSize: 32}, nil)
	h.queue.OnResult = func(r TaskResult) {
		h.mu.Lock()
		h.kinds = append(h.kinds, r.Kind)
		h.mu.Unlock()
	}
	t.Cleanup(h.queue.Stop)

	deps := Deps{
		Analyzer:     emotion.NewAnalyzer(),
		Memory:       memsvc.NewService(h.store, memsvc.Config{}, nil),
		Relationship: relsvc.NewTracker(h.store, 64, time.Minute, nil),
		Generator:    h.gen,
		Queue:        h.queue,
		Cache:        h.cache,
		Conversions:  h.store,
		Modulation:   modulation.NewRegistry(16, time.Minute, modulation.DefaultOptions()),
	}
	options := Options{GenerationTimeout: time.Second, Rand: constRand(0.99)}
	for _, opt := range opts {
		opt(&deps, &options)
	}

	engine, err := New(deps, options)
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.queue.Flush(ctx))
}

func (h *harness) taskKinds() map[TaskKind]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := map[TaskKind]int{}
	for _, k := range h.kinds {
		out[k]++
	}
	return out
}

func TestRespondValidatesRequest(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Respond(context.Background(), Request{Message: "  ", UserID: "u1"})
	assert.ErrorIs(t, err, ErrMessageRequired)

	_, err = h.engine.Respond(context.Background(), Request{Message: "hi"})
	assert.ErrorIs(t, err, ErrUserRequired)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)
}

func TestCrisisTurnUsesSafetyPath(t *testing.T) {
	h := newHarness(t, withRand(constRand(0)))
	h.gen.reply = "I'm so sorry you're hurting. I'm here."

	res, err := h.engine.Respond(context.Background(), Request{Message: endOfLife, UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, 10, res.Sentiment.Crisis.Severity)
	assert.Equal(t, emotion.UrgencyCrisis, res.Sentiment.Urgency)
	assert.True(t, res.Crisis)
	assert.True(t, strings.HasSuffix(res.Content, CrisisResourceBlock))
	assert.Zero(t, res.SuggestedDelay)
	assert.False(t, res.ShouldTriggerConversion)
	assert.Empty(t, res.Enrichments)
	assert.Equal(t, ai.TierAdvanced, res.Tier)
	assert.NotNil(t, res.Modulation)

	calls := h.gen.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ai.TierAdvanced, calls[0].Tier)
	assert.Equal(t, h.engine.prompts.BuildCrisisPrompt(h.engine.personas.List()[0]), calls[0].SystemPrompt)

	h.flush(t)
	kinds := h.taskKinds()
	assert.Equal(t, 1, kinds[TaskMemoryWrite])
	assert.Equal(t, 1, kinds[TaskTrustUpdate])
	assert.Zero(t, kinds[TaskCacheStore])
	assert.Zero(t, kinds[TaskConversionRecord])
	assert.Zero(t, h.cache.Len())
	assert.Equal(t, 1, h.store.MemoryCount("u1"))
}

func TestCrisisGenerationFailureStillDisclosesResources(t *testing.T) {
	h := newHarness(t)
	h.gen.err = errors.New("upstream 503")

	res, err := h.engine.Respond(context.Background(), Request{Message: endOfLife, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, CrisisSafeReply+CrisisResourceBlock, res.Content)
	assert.True(t, res.Fallback)
	assert.Zero(t, res.SuggestedDelay)
}

func TestCacheNeverBypassesCrisisDetection(t *testing.T) {
	h := newHarness(t)
	h.cache.Set(context.Background(), cache.Key(endOfLife, "u1"), []byte(`{"content":"stale and unsafe"}`))

	res, err := h.engine.Respond(context.Background(), Request{Message: endOfLife, UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.True(t, res.Crisis)
	assert.Contains(t, res.Content, CrisisResourceBlock)
}

func TestRepeatedGreetingIsServedFromCache(t *testing.T) {
	h := newHarness(t)
	req := Request{Message: greeting, UserID: "u1", SessionID: "s1"}

	first, err := h.engine.Respond(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	h.flush(t)
	require.Equal(t, 1, h.cache.Len())

	payload, ok := h.cache.Get(context.Background(), cache.Key(greeting, "u1"))
	require.True(t, ok)

	second, err := h.engine.Respond(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Sentiment.Emotion, second.Sentiment.Emotion)
	assert.Equal(t, first.SuggestedDelay, second.SuggestedDelay)
	assert.NotNil(t, second.Modulation)
	assert.Len(t, h.gen.calls(), 1)

	again, ok := h.cache.Get(context.Background(), cache.Key(greeting, "u1"))
	require.True(t, ok)
	assert.Equal(t, payload, again)

	other, err := h.engine.Respond(context.Background(), Request{Message: greeting, UserID: "u2"})
	require.NoError(t, err)
	assert.False(t, other.Cached)
}

func TestFreshnessRequiredMessagesBypassCache(t *testing.T) {
	h := newHarness(t)
	req := Request{Message: "What time is it right now?", UserID: "u1"}

	_, err := h.engine.Respond(context.Background(), req)
	require.NoError(t, err)
	h.flush(t)
	assert.Zero(t, h.taskKinds()[TaskCacheStore])

	res, err := h.engine.Respond(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Len(t, h.gen.calls(), 2)
}

func TestMemoryBranchFailureFallsBackToEmptyList(t *testing.T) {
	for name, m := range map[string]MemoryService{"panic": panickingMemory{}, "error": failingMemory{}} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, withMemory(m))

			res, err := h.engine.Respond(context.Background(), Request{Message: disclosure, UserID: "u1"})
			require.NoError(t, err)
			assert.False(t, res.Crisis)
			assert.False(t, res.Fallback)
			assert.Equal(t, "I'm doing well, thanks for asking.", res.Content)
			assert.NotNil(t, res.Resonance)

			calls := h.gen.calls()
			require.Len(t, calls, 1)
			assert.NotContains(t, calls[0].SystemPrompt, "Things you remember")
		})
	}
}

func TestInsignificantTurnWritesNoMemory(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Respond(context.Background(), Request{Message: greeting, UserID: "u1"})
	require.NoError(t, err)
	h.flush(t)
	assert.Equal(t, 1, h.taskKinds()[TaskMemoryWrite])
	assert.Zero(t, h.store.MemoryCount("u1"))

	_, err = h.engine.Respond(context.Background(), Request{Message: disclosure, UserID: "u1"})
	require.NoError(t, err)
	h.flush(t)
	assert.Equal(t, 1, h.store.MemoryCount("u1"))
}

func TestTrustUpdatedAfterTurn(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Respond(context.Background(), Request{Message: disclosure, UserID: "u1"})
	require.NoError(t, err)
	h.flush(t)

	profile, err := h.store.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Greater(t, profile.TrustLevel, 0.0)
	assert.Less(t, profile.TrustLevel, 1.0)
	assert.Equal(t, 1, profile.InteractionCount)
}

func TestGenerationFailureUsesFallbackAndIsNotCached(t *testing.T) {
	h := newHarness(t, withRand(constRand(0)))
	h.gen.err = errors.New("rate limited")

	res, err := h.engine.Respond(context.Background(), Request{Message: greeting, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, res.Content)
	assert.True(t, res.Fallback)
	assert.Empty(t, res.Enrichments)
	assert.False(t, res.ShouldTriggerConversion)

	h.flush(t)
	assert.Zero(t, h.cache.Len())
	assert.Zero(t, h.taskKinds()[TaskCacheStore])
	assert.Len(t, h.gen.calls(), 1)
}

func TestGenerationTimeoutFallsBack(t *testing.T) {
	h := newHarness(t)
	h.engine.timeout = 20 * time.Millisecond
	h.gen.delay = time.Second

	start := time.Now()
	res, err := h.engine.Respond(context.Background(), Request{Message: greeting, UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTierFollowsSubscription(t *testing.T) {
	h := newHarness(t)
	h.store.PutProfile(relationship.Profile{UserID: "paid", Subscription: relationship.TierPremium})

	free, err := h.engine.Respond(context.Background(), Request{Message: "tell me something nice", UserID: "free"})
	require.NoError(t, err)
	assert.Equal(t, ai.TierEconomy, free.Tier)

	paid, err := h.engine.Respond(context.Background(), Request{Message: "tell me something nice", UserID: "paid"})
	require.NoError(t, err)
	assert.Equal(t, ai.TierAdvanced, paid.Tier)

	calls := h.gen.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, ai.TierEconomy, calls[0].Tier)
	assert.Equal(t, ai.TierAdvanced, calls[1].Tier)
}

func TestConversionFiresOnceWithinCooldown(t *testing.T) {
	h := newHarness(t, withRand(constRand(0)))
	h.store.PutProfile(relationship.Profile{UserID: "u1", Subscription: relationship.TierFree, InteractionCount: 30})

	first, err := h.engine.Respond(context.Background(), Request{Message: "thanks for being here", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, first.ShouldTriggerConversion)

	second, err := h.engine.Respond(context.Background(), Request{Message: "you always make me smile", UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, second.ShouldTriggerConversion)

	h.flush(t)
	assert.Len(t, h.store.Conversions("u1"), 1)
	assert.Equal(t, 1, h.taskKinds()[TaskConversionRecord])
}

func TestModulationOnlyForSessions(t *testing.T) {
	h := newHarness(t)

	res, err := h.engine.Respond(context.Background(), Request{Message: "tell me a story", UserID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, res.Modulation)

	res, err = h.engine.Respond(context.Background(), Request{Message: "tell me a story", UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	require.NotNil(t, res.Modulation)
	assert.Equal(t, res.Modulation.Vector, res.Modulation.Vector.Clamp())
}

func TestSuggestedDelay(t *testing.T) {
	assert.Equal(t, 500+15*5, SuggestedDelay("hello", emotion.UrgencyNormal))
	assert.Equal(t, maxDelayMS, SuggestedDelay(strings.Repeat("a", 500), emotion.UrgencyLow))
	assert.Equal(t, (500+15*5)/2, SuggestedDelay("hello", emotion.UrgencyHigh))
	assert.Zero(t, SuggestedDelay("hello", emotion.UrgencyCrisis))
	assert.Equal(t, 500+15*2, SuggestedDelay("你好", emotion.UrgencyNormal))
}

func TestSelectTier(t *testing.T) {
	cases := []struct {
		urgency emotion.Urgency
		sub     relationship.SubscriptionTier
		want    ai.Tier
	}{
		{emotion.UrgencyCrisis, relationship.TierFree, ai.TierAdvanced},
		{emotion.UrgencyLow, relationship.TierPlus, ai.TierAdvanced},
		{emotion.UrgencyNormal, relationship.TierPremium, ai.TierAdvanced},
		{emotion.UrgencyHigh, relationship.TierFree, ai.TierEconomy},
		{emotion.UrgencyNormal, relationship.TierFree, ai.TierEconomy},
		{emotion.UrgencyNormal, "", ai.TierEconomy},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, SelectTier(c.urgency, c.sub), "%s/%s", c.urgency, c.sub)
	}
}

func TestCrisisSurvivesAnalyzerPanic(t *testing.T) {
	h := newHarness(t, withAnalyzer(crashingAnalyzer{emotion.NewAnalyzer()}))

	res, err := h.engine.Respond(context.Background(), Request{Message: endOfLife, UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, res.Crisis)
	assert.Equal(t, emotion.UrgencyCrisis, res.Sentiment.Urgency)
	assert.Equal(t, 10, res.Sentiment.Crisis.Severity)
	assert.True(t, strings.HasSuffix(res.Content, CrisisResourceBlock))
	assert.Zero(t, res.SuggestedDelay)

	h.flush(t)
	assert.Zero(t, h.taskKinds()[TaskCacheStore])
	assert.Zero(t, h.cache.Len())
}

func TestAnalyzerPanicDegradesToNeutralAndSkipsCache(t *testing.T) {
	h := newHarness(t, withAnalyzer(crashingAnalyzer{emotion.NewAnalyzer()}))
	req := Request{Message: greeting, UserID: "u1"}

	res, err := h.engine.Respond(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Crisis)
	assert.False(t, res.Fallback)
	assert.Equal(t, emotion.Neutral, res.Sentiment.Emotion)
	assert.Equal(t, emotion.UrgencyNormal, res.Sentiment.Urgency)

	h.flush(t)
	assert.Zero(t, h.taskKinds()[TaskCacheStore])

	again, err := h.engine.Respond(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, again.Cached)
	assert.Len(t, h.gen.calls(), 2)
}

func TestScreenPanicDisablesCacheButAnalyzerStillCatchesCrisis(t *testing.T) {
	h := newHarness(t, withAnalyzer(crashingScreen{emotion.NewAnalyzer()}))

	res, err := h.engine.Respond(context.Background(), Request{Message: greeting, UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, res.Crisis)
	h.flush(t)
	assert.Zero(t, h.taskKinds()[TaskCacheStore])

	crisis, err := h.engine.Respond(context.Background(), Request{Message: endOfLife, UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, crisis.Crisis)
	assert.Contains(t, crisis.Content, CrisisResourceBlock)
}

func TestReformattedCrisisMessageIsNeverCached(t *testing.T) {
	h := newHarness(t)
	req := Request{Message: "I want to end my\nlife", UserID: "u1"}

	for i := 0; i < 2; i++ {
		res, err := h.engine.Respond(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, res.Crisis)
		assert.False(t, res.Cached)
		assert.Contains(t, res.Content, CrisisResourceBlock)
		h.flush(t)
	}
	assert.Zero(t, h.taskKinds()[TaskCacheStore])
	assert.Zero(t, h.cache.Len())
	assert.Len(t, h.gen.calls(), 2)
}

func TestProfileFailureDropsResonance(t *testing.T) {
	h := newHarness(t, withTracker(func(tr *relsvc.Tracker) RelationshipService { return profileOutage{tr} }))

	res, err := h.engine.Respond(context.Background(), Request{Message: disclosure, UserID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, res.Resonance)
	assert.False(t, res.Crisis)
	assert.False(t, res.Fallback)
	assert.Equal(t, ai.TierEconomy, res.Tier)

	calls := h.gen.calls()
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].SystemPrompt)
}

func TestResonancePanicDropsResonance(t *testing.T) {
	h := newHarness(t, withTracker(func(tr *relsvc.Tracker) RelationshipService { return crashingResonance{tr} }))

	res, err := h.engine.Respond(context.Background(), Request{Message: disclosure, UserID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, res.Resonance)
	assert.False(t, res.Fallback)
	assert.Equal(t, "I'm doing well, thanks for asking.", res.Content)

	h.flush(t)
	assert.Equal(t, 1, h.taskKinds()[TaskTrustUpdate])
}

func TestCacheHitUsesLatestResonanceStage(t *testing.T) {
	var lookup *stageLookup
	h := newHarness(t, withTracker(func(tr *relsvc.Tracker) RelationshipService {
		lookup = &stageLookup{Tracker: tr}
		return lookup
	}))
	req := Request{Message: greeting, UserID: "u1", SessionID: "s1"}

	_, err := h.engine.Respond(context.Background(), req)
	require.NoError(t, err)
	h.flush(t)

	second, err := h.engine.Respond(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.Cached)
	assert.NotNil(t, second.Modulation)

	lookup.mu.Lock()
	defer lookup.mu.Unlock()
	assert.Equal(t, []string{"u1"}, lookup.lookups)
}

func TestCooldownFromStoreBlocksPromptAfterRestart(t *testing.T) {
	h := newHarness(t, withRand(constRand(0)))
	h.store.PutProfile(relationship.Profile{UserID: "u1", Subscription: relationship.TierFree, InteractionCount: 30})
	require.NoError(t, h.store.RecordConversion(context.Background(), "u1", time.Now().Add(-time.Hour)))

	res, err := h.engine.Respond(context.Background(), Request{Message: "thanks for being here", UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, res.ShouldTriggerConversion)

	h.flush(t)
	assert.Zero(t, h.taskKinds()[TaskConversionRecord])
	assert.Len(t, h.store.Conversions("u1"), 1)
}
