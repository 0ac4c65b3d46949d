package speech

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/modulation"
)

func TestBuildTTSRequestConvertsVector(t *testing.T) {
	p := modulation.Parameters{
		Vector:    modulation.Vector{PitchShift: 12, RateAdjust: -0.2, VolumeAdjust: 0.1, Breathiness: 0.4, Resonance: 0.6},
		AIEmotion: modulation.Tender,
		Tics:      []modulation.Tic{{Kind: modulation.TicSigh, Offset: 0}, {Kind: modulation.TicPause, Offset: 7}},
	}

	req := BuildTTSRequest("s1", "I hear you.", "en_female_skye_emo_v2_mars_bigtts", p)

	assert.Equal(t, "s1", req.SessionID)
	assert.InDelta(t, 0.8, req.SpeedRatio, 1e-9)
	assert.InDelta(t, 1.1, req.VolumeRatio, 1e-9)
	// pitch is clamped to +3 semitones before conversion
	assert.InDelta(t, math.Pow(2, 0.25), req.PitchRatio, 1e-9)
	assert.Equal(t, "tender", req.Emotion)
	assert.GreaterOrEqual(t, req.EmotionScale, 1.0)
	assert.LessOrEqual(t, req.EmotionScale, 5.0)
	assert.Len(t, req.Breaks, 2)
	assert.Equal(t, "pause", req.Breaks[1].Kind)
	assert.Equal(t, 7, req.Breaks[1].Offset)
}

func TestBuildTTSRequestPlainVoiceHasNoEmotion(t *testing.T) {
	req := BuildTTSRequest("s1", "hi", "zh_female_qingxin", modulation.Parameters{Vector: modulation.Neutral, AIEmotion: modulation.Warm})

	assert.Empty(t, req.Emotion)
	assert.Zero(t, req.EmotionScale)
	assert.InDelta(t, 1.0, req.SpeedRatio, 1e-9)
	assert.InDelta(t, 1.0, req.PitchRatio, 1e-9)
}

func TestEmotionScaleIsMonotonic(t *testing.T) {
	assert.Equal(t, 1.0, emotionScale(modulation.Neutral))
	mild := modulation.Neutral
	mild.PitchShift = 1.5
	strong := modulation.Neutral
	strong.PitchShift = 3
	assert.Less(t, emotionScale(mild), emotionScale(strong))
	assert.Equal(t, 5.0, emotionScale(strong))
}

func TestSupportsEmotion(t *testing.T) {
	assert.True(t, supportsEmotion(" EN_MALE_GLEN_EMO_V2_MARS_BIGTTS "))
	assert.True(t, supportsEmotion("custom_emo_voice"))
	assert.False(t, supportsEmotion(""))
	assert.False(t, supportsEmotion("zh_female_qingxin"))
}
