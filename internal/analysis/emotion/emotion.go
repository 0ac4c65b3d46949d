package emotion

import "sort"

// Emotion 用户本轮的主要情绪
type Emotion string

const (
	Joy        Emotion = "joy"
	Sadness    Emotion = "sadness"
	Anxiety    Emotion = "anxiety"
	Anger      Emotion = "anger"
	Love       Emotion = "love"
	Peace      Emotion = "peace"
	Confusion  Emotion = "confusion"
	Loneliness Emotion = "loneliness"
	Neutral    Emotion = "neutral"
)

// Emotions 列出所有情绪，neutral 在最后
var Emotions = []Emotion{Joy, Sadness, Anxiety, Anger, Love, Peace, Confusion, Loneliness, Neutral}

// Valence 正向情绪为 +1，负向为 -1，中性为 0
func (e Emotion) Valence() int {
	switch e {
	case Joy, Love, Peace:
		return 1
	case Sadness, Anxiety, Anger, Confusion, Loneliness:
		return -1
	default:
		return 0
	}
}

// HiddenEmotion 用户没有直接说出的次要情绪
type HiddenEmotion string

const (
	HiddenLoneliness HiddenEmotion = "hidden_loneliness"
	HiddenFear       HiddenEmotion = "hidden_fear"
	HiddenShame      HiddenEmotion = "hidden_shame"
	HiddenLonging    HiddenEmotion = "hidden_longing"
	MaskedPain       HiddenEmotion = "masked_pain"
)

// Need 用户明示或暗示的需求
type Need string

const (
	NeedComfort       Need = "comfort"
	NeedValidation    Need = "validation"
	NeedConnection    Need = "connection"
	NeedSupport       Need = "support"
	NeedEncouragement Need = "encouragement"
	NeedSpace         Need = "space"
)

// Urgency 决定模型档位和回复节奏
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
	UrgencyCrisis Urgency = "crisis"
)

// CrisisThreshold 达到该严重度即按危机处理
const CrisisThreshold = 7

// Crisis 自伤风险子评估
type Crisis struct {
	Severity   int      `json:"severity"`
	Indicators []string `json:"indicators,omitempty"`
}

// IsCrisis 严重度是否达到 CrisisThreshold
func (c Crisis) IsCrisis() bool {
	return c.Severity >= CrisisThreshold
}

// Merge 严重度取最大值，指标取并集
func (c Crisis) Merge(other Crisis) Crisis {
	out := Crisis{Severity: max(c.Severity, other.Severity)}
	seen := make(map[string]struct{}, len(c.Indicators)+len(other.Indicators))
	for _, list := range [][]string{c.Indicators, other.Indicators} {
		for _, tag := range list {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out.Indicators = append(out.Indicators, tag)
		}
	}
	sort.Strings(out.Indicators)
	return out
}

// Assessment 单轮情绪遥测
type Assessment struct {
	Emotion        Emotion         `json:"primaryEmotion"`
	Intensity      int             `json:"intensity"`
	HiddenEmotions []HiddenEmotion `json:"hiddenEmotions,omitempty"`
	Needs          []Need          `json:"needs,omitempty"`
	Authenticity   float64         `json:"authenticity"`
	Crisis         Crisis          `json:"crisisIndicators"`
	Urgency        Urgency         `json:"responseUrgency"`
}

// NeutralAssessment 分析不可用时使用的兜底评估
func NeutralAssessment() Assessment {
	return Assessment{
		Emotion:      Neutral,
		Intensity:    baselineIntensity,
		Authenticity: baselineAuthenticity,
		Urgency:      UrgencyNormal,
	}
}

// HasNeed 是否检测到需求 n
func (a Assessment) HasNeed(n Need) bool {
	for _, need := range a.Needs {
		if need == n {
			return true
		}
	}
	return false
}
