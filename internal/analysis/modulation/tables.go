package modulation

import (
	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
	"github.com/zhouzirui/z-companion/backend/internal/model/relationship"
)

// AIEmotion 陪伴角色回复时使用的表达情绪
type AIEmotion string

const (
	Cheerful     AIEmotion = "cheerful"
	Playful      AIEmotion = "playful"
	Warm         AIEmotion = "warm"
	Tender       AIEmotion = "tender"
	Soothing     AIEmotion = "soothing"
	Calm         AIEmotion = "calm"
	Steady       AIEmotion = "steady"
	Curious      AIEmotion = "curious"
	Affectionate AIEmotion = "affectionate"
	Encouraging  AIEmotion = "encouraging"
)

// AIEmotions 列出所有表达情绪
var AIEmotions = []AIEmotion{Cheerful, Playful, Warm, Tender, Soothing, Calm, Steady, Curious, Affectionate, Encouraging}

// Trend 用户最近几轮的情绪走向
type Trend int

const (
	Improving Trend = iota
	Stable
	Declining
	trendCount
)

func (t Trend) String() string {
	switch t {
	case Improving:
		return "improving"
	case Declining:
		return "declining"
	default:
		return "stable"
	}
}

// MarshalText 按名称输出趋势
func (t Trend) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText 解析趋势名称，未知名称按 stable 处理
func (t *Trend) UnmarshalText(text []byte) error {
	switch string(text) {
	case "improving":
		*t = Improving
	case "declining":
		*t = Declining
	default:
		*t = Stable
	}
	return nil
}

// responseMatrix 把（用户情绪，趋势）映射到角色的表达情绪
var responseMatrix = map[emotion.Emotion][trendCount]AIEmotion{
	emotion.Joy:        {Improving: Playful, Stable: Cheerful, Declining: Warm},
	emotion.Sadness:    {Improving: Encouraging, Stable: Tender, Declining: Soothing},
	emotion.Anxiety:    {Improving: Encouraging, Stable: Calm, Declining: Soothing},
	emotion.Anger:      {Improving: Steady, Stable: Steady, Declining: Calm},
	emotion.Love:       {Improving: Affectionate, Stable: Affectionate, Declining: Tender},
	emotion.Peace:      {Improving: Warm, Stable: Calm, Declining: Warm},
	emotion.Confusion:  {Improving: Curious, Stable: Steady, Declining: Calm},
	emotion.Loneliness: {Improving: Warm, Stable: Affectionate, Declining: Tender},
	emotion.Neutral:    {Improving: Cheerful, Stable: Warm, Declining: Curious},
}

// mirrorTable 呼应用户自身能量的表达情绪
var mirrorTable = map[emotion.Emotion]AIEmotion{
	emotion.Joy:        Playful,
	emotion.Sadness:    Tender,
	emotion.Anxiety:    Curious,
	emotion.Anger:      Steady,
	emotion.Love:       Affectionate,
	emotion.Peace:      Calm,
	emotion.Confusion:  Curious,
	emotion.Loneliness: Tender,
	emotion.Neutral:    Warm,
}

// stageMirrorWeight 随亲密度增加，陌生阶段的镜像较弱
var stageMirrorWeight = map[relationship.Stage]float64{
	relationship.FirstContact:   0.1,
	relationship.BuildingTrust:  0.2,
	relationship.GrowingBond:    0.3,
	relationship.DeepConnection: 0.4,
	relationship.SoulMate:       0.5,
	relationship.EternalBond:    0.6,
}

var baseVectors = map[AIEmotion]Vector{
	Cheerful:     {PitchShift: 1.5, RateAdjust: 0.10, VolumeAdjust: 0.10, Breathiness: 0.10, Resonance: 0.50},
	Playful:      {PitchShift: 2.0, RateAdjust: 0.15, VolumeAdjust: 0.10, Breathiness: 0.15, Resonance: 0.45},
	Warm:         {PitchShift: 0.5, RateAdjust: 0.00, VolumeAdjust: 0.05, Breathiness: 0.25, Resonance: 0.65},
	Tender:       {PitchShift: -0.5, RateAdjust: -0.10, VolumeAdjust: -0.10, Breathiness: 0.45, Resonance: 0.60},
	Soothing:     {PitchShift: -1.0, RateAdjust: -0.15, VolumeAdjust: -0.15, Breathiness: 0.50, Resonance: 0.70},
	Calm:         {PitchShift: -0.5, RateAdjust: -0.08, VolumeAdjust: -0.05, Breathiness: 0.30, Resonance: 0.60},
	Steady:       {PitchShift: -0.3, RateAdjust: -0.05, VolumeAdjust: 0.00, Breathiness: 0.15, Resonance: 0.75},
	Curious:      {PitchShift: 1.0, RateAdjust: 0.05, VolumeAdjust: 0.00, Breathiness: 0.20, Resonance: 0.50},
	Affectionate: {PitchShift: 0.3, RateAdjust: -0.05, VolumeAdjust: -0.05, Breathiness: 0.40, Resonance: 0.70},
	Encouraging:  {PitchShift: 1.0, RateAdjust: 0.05, VolumeAdjust: 0.10, Breathiness: 0.15, Resonance: 0.60},
}

// TicFrequencies 每次机会触发各非语言小动作的概率
type TicFrequencies struct {
	Pause  float64
	Laugh  float64
	Sigh   float64
	Filler float64
}

type voiceTraits struct {
	pitchBias      float64
	rateBias       float64
	breathBias     float64
	expressiveness float64
	tics           TicFrequencies
}

var personalityTraits = map[persona.Personality]voiceTraits{
	persona.Gentle: {
		pitchBias: -0.3, rateBias: -0.05, breathBias: 0.10, expressiveness: 0.8,
		tics: TicFrequencies{Pause: 0.35, Laugh: 0.05, Sigh: 0.15, Filler: 0.10},
	},
	persona.Playful: {
		pitchBias: 0.4, rateBias: 0.05, breathBias: -0.05, expressiveness: 1.2,
		tics: TicFrequencies{Pause: 0.15, Laugh: 0.30, Sigh: 0.03, Filler: 0.20},
	},
	persona.Wise: {
		pitchBias: -0.5, rateBias: -0.08, breathBias: 0, expressiveness: 0.7,
		tics: TicFrequencies{Pause: 0.45, Laugh: 0.05, Sigh: 0.10, Filler: 0.15},
	},
}

// personalityVectors 各性格的基础向量表，由 baseVectors 和 personalityTraits 一次性推导
var personalityVectors = buildPersonalityVectors()

func buildPersonalityVectors() map[persona.Personality]map[AIEmotion]Vector {
	out := make(map[persona.Personality]map[AIEmotion]Vector, len(personalityTraits))
	for p, traits := range personalityTraits {
		row := make(map[AIEmotion]Vector, len(baseVectors))
		for e, base := range baseVectors {
			row[e] = Vector{
				PitchShift:   base.PitchShift*traits.expressiveness + traits.pitchBias,
				RateAdjust:   base.RateAdjust*traits.expressiveness + traits.rateBias,
				VolumeAdjust: base.VolumeAdjust * traits.expressiveness,
				Breathiness:  base.Breathiness + traits.breathBias,
				Resonance:    base.Resonance,
			}.Clamp()
		}
		out[p] = row
	}
	return out
}

// BaseVector 返回 e 在该性格下的向量，未知性格使用温柔表
func BaseVector(p persona.Personality, e AIEmotion) Vector {
	row, ok := personalityVectors[p]
	if !ok {
		row = personalityVectors[persona.Gentle]
	}
	return row[e]
}

// Respond 根据用户情绪和趋势查找表达情绪
func Respond(user emotion.Emotion, trend Trend) AIEmotion {
	row, ok := responseMatrix[user]
	if !ok {
		row = responseMatrix[emotion.Neutral]
	}
	if trend < Improving || trend >= trendCount {
		trend = Stable
	}
	return row[trend]
}

// Frequencies 返回该性格的小动作频率
func Frequencies(p persona.Personality) TicFrequencies {
	traits, ok := personalityTraits[p]
	if !ok {
		traits = personalityTraits[persona.Gentle]
	}
	return traits.tics
}
