package emotion

import "github.com/zhouzirui/z-companion/backend/internal/model/chat"

// CrisisDetector 独立的自伤风险检测器。检测器必须是纯函数且足够轻量，
// 每一轮都会执行，缓存命中时也不例外
type CrisisDetector interface {
	Detect(normalized string, history []chat.Message) Crisis
}

// CrisisDetectorFunc 把普通函数适配为 CrisisDetector
type CrisisDetectorFunc func(normalized string, history []chat.Message) Crisis

// Detect 实现 CrisisDetector
func (f CrisisDetectorFunc) Detect(normalized string, history []chat.Message) Crisis {
	return f(normalized, history)
}

// PhraseDetector 用固定的危机短语类别给当前消息打分
type PhraseDetector struct{}

// Detect 实现 CrisisDetector。严重度为 10 的类别不会被之后匹配到的较弱类别降低
func (PhraseDetector) Detect(normalized string, _ []chat.Message) Crisis {
	return scorePhrases(normalized)
}

func scorePhrases(normalized string) Crisis {
	var out Crisis
	for _, class := range crisisClasses {
		if !class.phrases.match(normalized) {
			continue
		}
		out = out.Merge(Crisis{Severity: class.severity, Indicators: []string{class.indicator}})
	}
	return out
}

// HistoryDetector 在最近几轮反复出现绝望表达后，当前消息又带有痛苦时升级严重度
type HistoryDetector struct {
	// Window 检查的历史用户轮数，默认 3
	Window int
	// MinHits 其中至少多少轮带有绝望或急性痛苦，默认 2
	MinHits int
}

const escalationSeverity = CrisisThreshold

// Detect 实现 CrisisDetector
func (d HistoryDetector) Detect(normalized string, history []chat.Message) Crisis {
	window := d.Window
	if window <= 0 {
		window = 3
	}
	minHits := d.MinHits
	if minHits <= 0 {
		minHits = 2
	}

	if scorePhrases(normalized).Severity == 0 {
		return Crisis{}
	}

	hits := 0
	for _, msg := range chat.UserTurns(history, window) {
		if scorePhrases(normalize(msg.Content)).Severity >= 5 {
			hits++
		}
	}
	if hits < minHits {
		return Crisis{}
	}
	return Crisis{Severity: escalationSeverity, Indicators: []string{"escalating_distress"}}
}

// DefaultDetectors 返回内置检测器集合
func DefaultDetectors() []CrisisDetector {
	return []CrisisDetector{PhraseDetector{}, HistoryDetector{}}
}
