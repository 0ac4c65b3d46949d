package orchestrator

import (
	"strings"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
)

// Rand 本轮所有随机决策的随机源
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// 润色步骤名称，写入 Result.Enrichments
const (
	EnrichFlourish = "flourish"
	EnrichWeather  = "weather"
	EnrichCallback = "memory_callback"
)

const (
	flourishChance = 0.3
	weatherChance  = 0.2
	callbackChance = 0.25
)

var flourishes = map[persona.Personality][]string{
	persona.Gentle: {
		"I'm right here with you.",
		"Take all the time you need.",
		"You're not carrying this alone.",
	},
	persona.Playful: {
		"Honestly, you make my day more interesting.",
		"Okay, I'm officially invested in this story.",
		"You know I'm cheering for you, right?",
	},
	persona.Wise: {
		"Sometimes the path only shows itself one step at a time.",
		"Every season passes, even the long ones.",
		"There's wisdom in simply noticing how you feel.",
	},
}

var weatherMetaphors = map[emotion.Emotion]string{
	emotion.Joy:        "It feels like sunshine breaking through in your words.",
	emotion.Sadness:    "It sounds like a grey, rainy day inside. Rain does pass, though.",
	emotion.Anxiety:    "It sounds like a storm is swirling around you right now.",
	emotion.Anger:      "I can hear the thunder in that. Let it roll through.",
	emotion.Love:       "That has the warmth of a summer evening.",
	emotion.Peace:      "It feels like a calm, clear morning.",
	emotion.Confusion:  "It sounds a bit foggy right now, and that's okay.",
	emotion.Loneliness: "It sounds like a quiet, cold night. I'll keep you company.",
	emotion.Neutral:    "Sounds like mild weather today.",
}

const callbackMarker = "I still remember when you told me"

// EnrichInput 润色可用的上下文
type EnrichInput struct {
	Personality persona.Personality
	Emotion     emotion.Emotion
	Memories    []memory.Memory
}

// Enricher 对生成的回复做可选的后处理。各步骤独立抽签且幂等，
// 已经包含对应内容时跳过
type Enricher struct {
	rand Rand
}

// NewEnricher 创建润色器，r 为 nil 时关闭润色
func NewEnricher(r Rand) *Enricher {
	return &Enricher{rand: r}
}

// Enrich 返回润色后的文本和实际应用的步骤
func (e *Enricher) Enrich(text string, in EnrichInput) (string, []string) {
	if e == nil || e.rand == nil || strings.TrimSpace(text) == "" {
		return text, nil
	}

	var applied []string
	if e.rand.Float64() < flourishChance {
		if out, ok := addFlourish(text, in.Personality, e.rand); ok {
			text = out
			applied = append(applied, EnrichFlourish)
		}
	}
	if e.rand.Float64() < weatherChance {
		if out, ok := addWeather(text, in.Emotion); ok {
			text = out
			applied = append(applied, EnrichWeather)
		}
	}
	if e.rand.Float64() < callbackChance {
		if out, ok := addCallback(text, in.Memories); ok {
			text = out
			applied = append(applied, EnrichCallback)
		}
	}
	return text, applied
}

func addFlourish(text string, p persona.Personality, r Rand) (string, bool) {
	options, ok := flourishes[p]
	if !ok {
		options = flourishes[persona.Gentle]
	}
	for _, f := range options {
		if strings.Contains(text, f) {
			return text, false
		}
	}
	return text + " " + options[r.IntN(len(options))], true
}

func addWeather(text string, e emotion.Emotion) (string, bool) {
	line, ok := weatherMetaphors[e]
	if !ok || strings.Contains(text, line) {
		return text, false
	}
	return text + " " + line, true
}

func addCallback(text string, memories []memory.Memory) (string, bool) {
	if len(memories) == 0 || strings.Contains(text, callbackMarker) {
		return text, false
	}
	snippet := snippetOf(memories[0].Content, 8)
	if snippet == "" {
		return text, false
	}
	return text + " " + callbackMarker + " \"" + snippet + "\".", true
}

func snippetOf(content string, words int) string {
	fields := strings.Fields(content)
	if len(fields) > words {
		return strings.Join(fields[:words], " ") + "..."
	}
	return strings.Join(fields, " ")
}
