package speech

import (
	"math"
	"strings"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/modulation"
	model "github.com/zhouzirui/z-companion/backend/internal/model/speech"
)

// ttsEmotionLabels 把表达情绪映射为情感音色支持的标签
var ttsEmotionLabels = map[modulation.AIEmotion]string{
	modulation.Cheerful:     "happy",
	modulation.Playful:      "excited",
	modulation.Warm:         "tender",
	modulation.Tender:       "tender",
	modulation.Soothing:     "comfort",
	modulation.Calm:         "comfort",
	modulation.Steady:       "magnetic",
	modulation.Curious:      "happy",
	modulation.Affectionate: "tender",
	modulation.Encouraging:  "happy",
}

var emotionVoiceWhitelist = map[string]struct{}{
	"zh_male_junlangnanyou_emo_v2_mars_bigtts":    {},
	"zh_male_yourougongzi_emo_v2_mars_bigtts":     {},
	"zh_female_gaolengyujie_emo_v2_mars_bigtts":   {},
	"zh_female_tianxinxiaomei_emo_v2_mars_bigtts": {},
	"en_female_candice_emo_v2_mars_bigtts":        {},
	"en_female_skye_emo_v2_mars_bigtts":           {},
	"en_male_glen_emo_v2_mars_bigtts":             {},
	"en_male_corey_emo_v2_mars_bigtts":            {},
}

// BuildTTSRequest 将调制参数转换为语音合成请求。
//
// 语速和音量为 1 加相对偏移，音高从半音换算为频率比。
// 只有支持情感的音色才设置情感标签，强度 1..5 由向量偏离中性的程度决定
func BuildTTSRequest(sessionID, text, voice string, p modulation.Parameters) model.TTSRequest {
	v := p.Vector.Clamp()
	req := model.TTSRequest{
		SessionID:   sessionID,
		Text:        text,
		Voice:       voice,
		SpeedRatio:  1 + v.RateAdjust,
		VolumeRatio: 1 + v.VolumeAdjust,
		PitchRatio:  math.Pow(2, v.PitchShift/12),
		Breathiness: v.Breathiness,
		Resonance:   v.Resonance,
	}

	if label, ok := ttsEmotionLabels[p.AIEmotion]; ok && supportsEmotion(voice) {
		req.Emotion = label
		req.EmotionScale = emotionScale(v)
	}

	for _, tic := range p.Tics {
		req.Breaks = append(req.Breaks, model.Break{Kind: string(tic.Kind), Offset: tic.Offset})
	}
	return req
}

// emotionScale 随与中性向量的归一化距离增大
func emotionScale(v modulation.Vector) float64 {
	n := modulation.Neutral
	spread := math.Max(
		math.Max(math.Abs(v.PitchShift-n.PitchShift)/3, math.Abs(v.RateAdjust-n.RateAdjust)/0.3),
		math.Max(math.Abs(v.VolumeAdjust-n.VolumeAdjust)/0.3, math.Abs(v.Breathiness-n.Breathiness)),
	)
	scale := 1 + 4*math.Min(spread, 1)
	return math.Round(scale*10) / 10
}

func supportsEmotion(voice string) bool {
	normalized := strings.ToLower(strings.TrimSpace(voice))
	if normalized == "" {
		return false
	}

	if _, ok := emotionVoiceWhitelist[normalized]; ok {
		return true
	}

	return strings.Contains(normalized, "_emo_") || strings.HasSuffix(normalized, "_emo")
}
