package relationship

import (
	"math"
	"strings"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	model "github.com/zhouzirui/z-companion/backend/internal/model/relationship"
)

// 各维度权重，总和为 1
const (
	weightHarmony       = 0.35
	weightVulnerability = 0.25
	weightDepth         = 0.25
	weightGrowth        = 0.15
)

// growthWindow 参与成长一致性计算的最近用户轮数
const growthWindow = 5

// Resonance 用户与陪伴角色在单轮中的连接评分
type Resonance struct {
	Score         float64     `json:"score"`
	Harmony       float64     `json:"harmony"`
	Vulnerability float64     `json:"vulnerability"`
	Depth         float64     `json:"depth"`
	Growth        float64     `json:"growth"`
	Milestone     string      `json:"milestone,omitempty"`
	Stage         model.Stage `json:"stage"`
}

// 里程碑名称，按阈值升序排列
var milestones = []struct {
	threshold int
	name      string
}{
	{3, "first_spark"},
	{5, "growing_resonance"},
	{7, "deep_harmony"},
	{9, "soul_resonance"},
}

// MilestoneFor 返回阈值等于 floor(score) 的里程碑，没有则为空
func MilestoneFor(score float64) string {
	floor := int(math.Floor(score))
	for _, m := range milestones {
		if m.threshold == floor {
			return m.name
		}
	}
	return ""
}

// archetypeAffinity 各原型与情绪的天然共鸣程度
var archetypeAffinity = map[model.Archetype]map[emotion.Emotion]float64{
	model.ArchetypeNurturer: {
		emotion.Joy: 7, emotion.Sadness: 9, emotion.Anxiety: 8, emotion.Anger: 5, emotion.Love: 9,
		emotion.Peace: 7, emotion.Confusion: 6, emotion.Loneliness: 9, emotion.Neutral: 5,
	},
	model.ArchetypeExplorer: {
		emotion.Joy: 9, emotion.Sadness: 5, emotion.Anxiety: 5, emotion.Anger: 6, emotion.Love: 7,
		emotion.Peace: 6, emotion.Confusion: 8, emotion.Loneliness: 5, emotion.Neutral: 6,
	},
	model.ArchetypeThinker: {
		emotion.Joy: 6, emotion.Sadness: 6, emotion.Anxiety: 7, emotion.Anger: 6, emotion.Love: 5,
		emotion.Peace: 8, emotion.Confusion: 9, emotion.Loneliness: 6, emotion.Neutral: 7,
	},
	model.ArchetypeDreamer: {
		emotion.Joy: 8, emotion.Sadness: 8, emotion.Anxiety: 6, emotion.Anger: 4, emotion.Love: 10,
		emotion.Peace: 8, emotion.Confusion: 6, emotion.Loneliness: 8, emotion.Neutral: 5,
	},
}

const defaultAffinity = 5

func harmony(archetype model.Archetype, e emotion.Emotion) float64 {
	row, ok := archetypeAffinity[archetype]
	if !ok {
		return defaultAffinity
	}
	if v, ok := row[e]; ok {
		return v
	}
	return defaultAffinity
}

// vulnerability 估计用户本轮袒露了多少自己
func vulnerability(a emotion.Assessment) float64 {
	v := 6*a.Authenticity + 1.5*float64(len(a.HiddenEmotions))
	for _, n := range a.Needs {
		switch n {
		case emotion.NeedComfort, emotion.NeedValidation, emotion.NeedSupport, emotion.NeedConnection:
			v += 0.5
		}
	}
	if a.Emotion.Valence() < 0 && a.Intensity >= 6 {
		v++
	}
	return clamp10(v)
}

var growthTerms = map[string]struct{}{
	"learn": {}, "learned": {}, "learning": {}, "grow": {}, "growing": {}, "grew": {},
	"better": {}, "improve": {}, "improving": {}, "progress": {}, "try": {}, "trying": {},
	"tried": {}, "goal": {}, "goals": {}, "proud": {}, "healing": {}, "change": {},
	"changing": {}, "practice": {}, "practicing": {}, "step": {}, "steps": {},
}

// growth 最近用户轮次中成长类词语的密度，每十个词出现一次记 10 分
func growth(current string, history []chat.Message) float64 {
	words, hits := countGrowth(current)
	for _, m := range chat.UserTurns(history, growthWindow) {
		w, h := countGrowth(m.Content)
		words += w
		hits += h
	}
	if words == 0 {
		return 0
	}
	return clamp10(float64(hits) / float64(words) * 100)
}

func countGrowth(text string) (words, hits int) {
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w == "" {
			continue
		}
		words++
		if _, ok := growthTerms[w]; ok {
			hits++
		}
	}
	return words, hits
}

// Compute 给单轮打分。纯函数，缓存由 Tracker.ComputeResonance 负责
func Compute(profile model.Profile, a emotion.Assessment, current string, history []chat.Message) Resonance {
	r := Resonance{
		Harmony:       harmony(profile.Archetype, a.Emotion),
		Vulnerability: vulnerability(a),
		Depth:         model.ClampTrust(profile.TrustLevel) / 10,
		Growth:        growth(current, history),
		Stage:         profile.Stage(),
	}
	r.Score = clamp10(weightHarmony*r.Harmony +
		weightVulnerability*r.Vulnerability +
		weightDepth*r.Depth +
		weightGrowth*r.Growth)
	r.Milestone = MilestoneFor(r.Score)
	return r
}

// TrustDelta 单轮的信任度调整，绝对值小于 1
func TrustDelta(a emotion.Assessment, r *Resonance) float64 {
	delta := 0.1
	if r != nil {
		if r.Score >= 7 {
			delta += 0.2
		}
		if r.Vulnerability >= 6 {
			delta += 0.1
		}
	} else if a.Authenticity >= 0.7 {
		delta += 0.1
	}
	if a.Emotion == emotion.Anger {
		delta -= 0.2
	}
	return math.Max(-0.9, math.Min(0.9, delta))
}

func clamp10(v float64) float64 {
	return math.Max(0, math.Min(10, v))
}
