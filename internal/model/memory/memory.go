package memory

import "time"

// Memory 按重要度保存的一轮对话记忆。记录只追加，本服务不会修改或删除
type Memory struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Content      string    `json:"content"`
	Response     string    `json:"response,omitempty"`
	Emotion      string    `json:"emotion,omitempty"`
	Significance float64   `json:"significance"`
	Tags         []string  `json:"tags,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Filter 限定 FindMemories 的查询条件，零值表示不限制，结果按时间倒序
type Filter struct {
	UserID          string
	MinSignificance float64
	Limit           int
}
