package emotion

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
)

const (
	baselineIntensity    = 3
	baselineAuthenticity = 0.5
	longMessageRunes     = 200
)

// Analyzer 根据消息和最近的对话记录给出情绪与危机评估。不做 I/O，可并发使用
type Analyzer struct {
	detectors []CrisisDetector
}

// NewAnalyzer 创建分析器，未传检测器时使用默认集合
func NewAnalyzer(detectors ...CrisisDetector) *Analyzer {
	if len(detectors) == 0 {
		detectors = DefaultDetectors()
	}
	return &Analyzer{detectors: detectors}
}

// Analyze 对文本分类。危机检测最先执行，其紧急度优先于其他推导
func (a *Analyzer) Analyze(text string, history []chat.Message) Assessment {
	normalized := normalize(text)
	crisis := a.crisis(normalized, history)

	primary := classify(normalized)
	intensity := scoreIntensity(text, normalized, primary)

	assessment := Assessment{
		Emotion:        primary,
		Intensity:      intensity,
		HiddenEmotions: detectHidden(normalized),
		Needs:          detectNeeds(normalized),
		Authenticity:   scoreAuthenticity(normalized),
		Crisis:         crisis,
	}
	assessment.Urgency = deriveUrgency(assessment)
	return assessment
}

// CrisisOnly 只执行危机检测
func (a *Analyzer) CrisisOnly(text string, history []chat.Message) Crisis {
	return a.crisis(normalize(text), history)
}

func (a *Analyzer) crisis(normalized string, history []chat.Message) Crisis {
	var out Crisis
	for _, d := range a.detectors {
		out = out.Merge(d.Detect(normalized, history))
	}
	if out.Severity > 10 {
		out.Severity = 10
	}
	return out
}

func classify(normalized string) Emotion {
	for _, c := range categories {
		if c.phrases.match(normalized) {
			return c.emotion
		}
	}
	return Neutral
}

func scoreIntensity(raw, normalized string, primary Emotion) int {
	score := baselineIntensity
	if primary != Neutral {
		score += 2
	}

	exclamations := strings.Count(raw, "!") + strings.Count(raw, "！")
	switch {
	case exclamations >= 3:
		score += 2
	case exclamations >= 1:
		score++
	}

	score += min(superlatives.count(normalized), 2)

	if utf8.RuneCountInString(raw) > longMessageRunes {
		score++
	}
	if urgencyPhrases.match(normalized) {
		score += 2
	}
	if shouting(raw) {
		score++
	}
	return clampInt(score, 0, 10)
}

// shouting 是否包含两个及以上、至少三个字母的全大写单词
func shouting(raw string) bool {
	caps := 0
	for _, word := range strings.Fields(raw) {
		letters := 0
		upper := true
		for _, r := range word {
			if !unicode.IsLetter(r) {
				continue
			}
			letters++
			if !unicode.IsUpper(r) {
				upper = false
				break
			}
		}
		if upper && letters >= 3 {
			caps++
		}
	}
	return caps >= 2
}

func detectHidden(normalized string) []HiddenEmotion {
	var out []HiddenEmotion
	for _, m := range hiddenMarkers {
		if m.phrases.match(normalized) {
			out = append(out, m.hidden)
		}
	}
	return out
}

func detectNeeds(normalized string) []Need {
	var out []Need
	for _, m := range needMarkers {
		if m.phrases.match(normalized) {
			out = append(out, m.need)
		}
	}
	return out
}

func scoreAuthenticity(normalized string) float64 {
	score := baselineAuthenticity
	if feelingPhrases.match(normalized) {
		score += 0.15
	}
	if disclosure.match(normalized) {
		score += 0.15
	}
	length := utf8.RuneCountInString(normalized)
	if length > 80 {
		score += 0.1
	}
	if length < 12 {
		score -= 0.2
	}
	if jokeMarkers.match(normalized) {
		score -= 0.2
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func deriveUrgency(a Assessment) Urgency {
	if a.Crisis.IsCrisis() {
		return UrgencyCrisis
	}
	switch {
	case a.Intensity >= 8, a.Crisis.Severity >= 5:
		return UrgencyHigh
	case a.HasNeed(NeedSupport) && a.Intensity >= 6:
		return UrgencyHigh
	case a.Emotion == Neutral && a.Intensity <= baselineIntensity:
		return UrgencyLow
	default:
		return UrgencyNormal
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
