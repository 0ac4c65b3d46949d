// Package cache 响应缓存，仅作参考。值是编码后的不透明数据，
// 未命中或后端故障都不会作为错误返回给调用方
package cache

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Cache 按键保存编码后的结果
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// Normalize 转小写并合并空白
func Normalize(message string) string {
	return strings.Join(strings.Fields(strings.ToLower(message)), " ")
}

// Key 对归一化后的消息和用户ID做哈希。键中不含时间，
// TTL 内相同的消息命中同一条目
func Key(message, userID string) string {
	h := xxhash.New()
	_, _ = h.WriteString(Normalize(message))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(userID)
	return strconv.FormatUint(h.Sum64(), 16)
}

var freshness = regexp.MustCompile(`\b(?:right now|what time|current time|what day|today's date|todays date|this minute|latest|news|weather|urgent|emergency|asap|tonight's|breaking)\b`)

// FreshnessRequired 判断消息的答案是否取决于提问时刻，这类消息既不读也不写缓存
func FreshnessRequired(message string) bool {
	return freshness.MatchString(Normalize(message))
}
