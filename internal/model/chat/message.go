package chat

import "time"

// 引擎识别的角色，其他角色的消息会被忽略
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 对话记录中的一条消息
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Emotion   string    `json:"emotion,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsUser 是否为用户发送的消息
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// UserTurns 按时间顺序返回最近 n 条用户消息
func UserTurns(history []Message, n int) []Message {
	if n <= 0 {
		return nil
	}
	out := make([]Message, 0, n)
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		if history[i].IsUser() {
			out = append(out, history[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
