package chat

import "time"

// Session 在整段对话期间把用户绑定到一个陪伴角色
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	PersonaID string    `json:"personaId"`
	CreatedAt time.Time `json:"createdAt"`
}
