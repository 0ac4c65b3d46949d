package speech

// Break 插入合成语音中的非语言停顿
type Break struct {
	Kind   string `json:"kind"`   // pause, laugh, sigh, filler
	Offset int    `json:"offset"` // rune offset in Text
}

// TTSRequest 语音合成请求。字段取值即下游合成引擎可直接消费的参数。
type TTSRequest struct {
	SessionID    string  `json:"sessionId"`
	Text         string  `json:"text"`
	Voice        string  `json:"voice"`                  // 声音类型
	SpeedRatio   float64 `json:"speedRatio"`             // 语速倍率 0.7-1.3
	VolumeRatio  float64 `json:"volumeRatio"`            // 音量倍率 0.7-1.3
	PitchRatio   float64 `json:"pitchRatio"`             // 音高倍率，±3 个半音
	Breathiness  float64 `json:"breathiness"`            // 0-1
	Resonance    float64 `json:"resonance"`              // 0-1
	Emotion      string  `json:"emotion,omitempty"`      // 情绪标签，仅情感音色支持
	EmotionScale float64 `json:"emotionScale,omitempty"` // 情绪强度 1-5
	Breaks       []Break `json:"breaks,omitempty"`
}
