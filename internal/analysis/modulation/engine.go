package modulation

import (
	"sync"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
	"github.com/zhouzirui/z-companion/backend/internal/model/relationship"
)

// Rand 非语言小动作使用的随机源
type Rand interface {
	Float64() float64
}

// Options Engine 配置
type Options struct {
	// AdaptationSpeed 每轮向新目标插值的系数，取值 (0,1]
	AdaptationSpeed float64
	// Window 计算情绪趋势时参考的轮数
	Window int
	// Rand 驱动小动作选择，为 nil 时关闭
	Rand Rand
}

// DefaultOptions 返回默认配置
func DefaultOptions() Options {
	return Options{AdaptationSpeed: 0.3, Window: 5}
}

// Context 当前轮次的调制输入
type Context struct {
	Emotion     emotion.Emotion
	Intensity   int
	Stage       relationship.Stage
	Personality persona.Personality
}

// ContextFrom 由情绪评估构造 Context
func ContextFrom(a emotion.Assessment, stage relationship.Stage, p persona.Personality) Context {
	return Context{Emotion: a.Emotion, Intensity: a.Intensity, Stage: stage, Personality: p}
}

// Parameters 单轮的表达参数
type Parameters struct {
	Vector    Vector    `json:"vector"`
	Target    Vector    `json:"target"`
	AIEmotion AIEmotion `json:"aiEmotion"`
	Trend     Trend     `json:"trend"`
	Tics      []Tic     `json:"tics,omitempty"`
}

// Engine 保存单个会话平滑后的表达状态
type Engine struct {
	mu     sync.Mutex
	state  Vector
	recent []emotion.Emotion
	speed  float64
	window int
	rand   Rand
}

// NewEngine 以中性向量开始一个会话
func NewEngine(opts Options) *Engine {
	defaults := DefaultOptions()
	if opts.AdaptationSpeed <= 0 || opts.AdaptationSpeed > 1 {
		opts.AdaptationSpeed = defaults.AdaptationSpeed
	}
	if opts.Window < 2 {
		opts.Window = defaults.Window
	}
	return &Engine{
		state:  Neutral,
		speed:  opts.AdaptationSpeed,
		window: opts.Window,
		rand:   opts.Rand,
	}
}

// State 返回当前平滑后的向量
func (e *Engine) State() Vector {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Next 计算 text 的表达参数。状态按 AdaptationSpeed 向新目标靠拢，相邻输出不会突变
func (e *Engine) Next(text string, ctx Context) Parameters {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recent = append(e.recent, ctx.Emotion)
	if len(e.recent) > e.window {
		e.recent = e.recent[len(e.recent)-e.window:]
	}

	trend := ClassifyTrend(e.recent)
	aiEmotion := Respond(ctx.Emotion, trend)
	target := BaseVector(ctx.Personality, aiEmotion)
	target = mirror(target, ctx)

	e.state = e.state.Lerp(target, e.speed)

	return Parameters{
		Vector:    e.state,
		Target:    target,
		AIEmotion: aiEmotion,
		Trend:     trend,
		Tics:      drawTics(text, aiEmotion, Frequencies(ctx.Personality), e.rand),
	}
}

// ClassifyTrend 比较相邻轮次的情绪效价
func ClassifyTrend(emotions []emotion.Emotion) Trend {
	if len(emotions) < 2 {
		return Stable
	}
	score := 0
	for i := 1; i < len(emotions); i++ {
		prev, cur := emotions[i-1].Valence(), emotions[i].Valence()
		switch {
		case cur > prev:
			score++
		case cur < prev:
			score--
		}
	}
	switch {
	case score > 0:
		return Improving
	case score < 0:
		return Declining
	default:
		return Stable
	}
}

const mirrorIntensity = 7

// mirror 用户情绪强烈时把目标拉向用户自身的能量，关系越深拉得越多
func mirror(target Vector, ctx Context) Vector {
	if ctx.Intensity < mirrorIntensity {
		return target
	}
	weight, ok := stageMirrorWeight[ctx.Stage]
	if !ok {
		weight = stageMirrorWeight[relationship.FirstContact]
	}
	scale := float64(min(ctx.Intensity, 10)-(mirrorIntensity-1)) / 4
	mirrored := BaseVector(ctx.Personality, mirrorTable[ctx.Emotion])
	return target.Lerp(mirrored, weight*scale).Clamp()
}
