package modulation

import "math"

// Vector 交给语音合成的连续表达参数
// / PitchShift 单位为半音，RateAdjust 与 VolumeAdjust 是相对 1.0 的偏移，
// Breathiness 与 Resonance 是 0..1 的权重
type Vector struct {
	PitchShift   float64 `json:"pitchShift"`
	RateAdjust   float64 `json:"rateAdjust"`
	VolumeAdjust float64 `json:"volumeAdjust"`
	Breathiness  float64 `json:"breathiness"`
	Resonance    float64 `json:"resonance"`
}

var (
	minVector = Vector{PitchShift: -3, RateAdjust: -0.3, VolumeAdjust: -0.3, Breathiness: 0, Resonance: 0}
	maxVector = Vector{PitchShift: 3, RateAdjust: 0.3, VolumeAdjust: 0.3, Breathiness: 1, Resonance: 1}
)

// Neutral 每个会话的初始向量
var Neutral = Vector{Breathiness: 0.2, Resonance: 0.5}

// Lerp 以 t (0..1) 把 v 向 target 插值
func (v Vector) Lerp(target Vector, t float64) Vector {
	return Vector{
		PitchShift:   v.PitchShift + (target.PitchShift-v.PitchShift)*t,
		RateAdjust:   v.RateAdjust + (target.RateAdjust-v.RateAdjust)*t,
		VolumeAdjust: v.VolumeAdjust + (target.VolumeAdjust-v.VolumeAdjust)*t,
		Breathiness:  v.Breathiness + (target.Breathiness-v.Breathiness)*t,
		Resonance:    v.Resonance + (target.Resonance-v.Resonance)*t,
	}
}

// Clamp 把每个字段限制在合法范围内
func (v Vector) Clamp() Vector {
	return Vector{
		PitchShift:   clamp(v.PitchShift, minVector.PitchShift, maxVector.PitchShift),
		RateAdjust:   clamp(v.RateAdjust, minVector.RateAdjust, maxVector.RateAdjust),
		VolumeAdjust: clamp(v.VolumeAdjust, minVector.VolumeAdjust, maxVector.VolumeAdjust),
		Breathiness:  clamp(v.Breathiness, minVector.Breathiness, maxVector.Breathiness),
		Resonance:    clamp(v.Resonance, minVector.Resonance, maxVector.Resonance),
	}
}

// Fields 按声明顺序返回各分量
func (v Vector) Fields() [5]float64 {
	return [5]float64{v.PitchShift, v.RateAdjust, v.VolumeAdjust, v.Breathiness, v.Resonance}
}

// MaxDelta 返回 v 与 o 各字段差值绝对值的最大值
func (v Vector) MaxDelta(o Vector) float64 {
	a, b := v.Fields(), o.Fields()
	var d float64
	for i := range a {
		d = math.Max(d, math.Abs(a[i]-b[i]))
	}
	return d
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
