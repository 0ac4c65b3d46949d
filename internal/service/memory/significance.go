package memory

import (
	"strings"
	"unicode"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
)

// Significance 给一轮对话打 0 到 10 的记忆重要度
func Significance(a emotion.Assessment) float64 {
	score := 0.5*float64(a.Intensity) + 3*a.Authenticity
	switch {
	case a.Crisis.Severity >= emotion.CrisisThreshold:
		score += 2
	case a.Crisis.Severity >= 4:
		score++
	}
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// Tags 根据情绪评估生成记忆标签
func Tags(a emotion.Assessment) []string {
	tags := make([]string, 0, 2+len(a.HiddenEmotions)+len(a.Needs))
	if a.Emotion != "" {
		tags = append(tags, string(a.Emotion))
	}
	for _, h := range a.HiddenEmotions {
		tags = append(tags, string(h))
	}
	for _, n := range a.Needs {
		tags = append(tags, "need:"+string(n))
	}
	if a.Crisis.IsCrisis() {
		tags = append(tags, "crisis")
	}
	return tags
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "but": {}, "for": {}, "you": {}, "are": {}, "was": {},
	"were": {}, "that": {}, "this": {}, "with": {}, "have": {}, "has": {}, "had": {},
	"its": {}, "it's": {}, "i'm": {}, "not": {}, "just": {}, "what": {}, "how": {},
	"about": {}, "from": {}, "they": {}, "them": {}, "then": {}, "than": {}, "your": {},
}

// tokenize 把文本切成小写词集合，去掉过短的词和停用词
func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.TrimSuffix(strings.Trim(f, "'"), "'s")
		if len([]rune(f)) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

// Relevance 两个词集合的 Jaccard 重合度：交集大小除以并集大小
func Relevance(query, content string) float64 {
	return jaccard(tokenize(query), tokenize(content))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}
