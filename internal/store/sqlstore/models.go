package sqlstore

import (
	"time"

	"github.com/bytedance/sonic"

	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/model/relationship"
)

// ProfileModel GORM模型 - 关系档案表
type ProfileModel struct {
	UserID           string    `gorm:"primaryKey;size:255"`
	DisplayName      string    `gorm:"size:255"`
	PersonaID        string    `gorm:"size:64"`
	Archetype        string    `gorm:"size:32"`
	Subscription     string    `gorm:"size:32;not null;default:free"`
	TrustLevel       float64   `gorm:"not null;default:0"`
	InteractionCount int       `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// MemoryModel GORM模型 - 记忆表
type MemoryModel struct {
	ID           string    `gorm:"primaryKey;size:64"`
	UserID       string    `gorm:"index:idx_user_created,priority:1;size:255;not null"`
	Content      string    `gorm:"type:text;not null"`
	Response     string    `gorm:"type:text"`
	Emotion      string    `gorm:"size:32"`
	Significance float64   `gorm:"index;not null"`
	Tags         string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index:idx_user_created,priority:2"`
}

// ConversionModel GORM模型 - 转化触发记录表
type ConversionModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"index:idx_user_fired,priority:1;size:255;not null"`
	FiredAt   time.Time `gorm:"index:idx_user_fired,priority:2;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (m *ProfileModel) toProfile() relationship.Profile {
	return relationship.Profile{
		UserID:           m.UserID,
		DisplayName:      m.DisplayName,
		PersonaID:        m.PersonaID,
		Archetype:        relationship.Archetype(m.Archetype),
		Subscription:     relationship.SubscriptionTier(m.Subscription),
		TrustLevel:       m.TrustLevel,
		InteractionCount: m.InteractionCount,
	}
}

func (m *ProfileModel) fromProfile(p relationship.Profile) {
	m.UserID = p.UserID
	m.DisplayName = p.DisplayName
	m.PersonaID = p.PersonaID
	m.Archetype = string(p.Archetype)
	m.Subscription = string(p.Subscription)
	m.TrustLevel = p.TrustLevel
	m.InteractionCount = p.InteractionCount
}

func (m *MemoryModel) toMemory() memory.Memory {
	out := memory.Memory{
		ID:           m.ID,
		UserID:       m.UserID,
		Content:      m.Content,
		Response:     m.Response,
		Emotion:      m.Emotion,
		Significance: m.Significance,
		CreatedAt:    m.CreatedAt,
	}
	if m.Tags != "" {
		// 标签损坏时忽略，不影响记忆本身
		_ = sonic.UnmarshalString(m.Tags, &out.Tags)
	}
	return out
}

func (m *MemoryModel) fromMemory(rec memory.Memory) error {
	m.ID = rec.ID
	m.UserID = rec.UserID
	m.Content = rec.Content
	m.Response = rec.Response
	m.Emotion = rec.Emotion
	m.Significance = rec.Significance
	m.CreatedAt = rec.CreatedAt
	m.Tags = ""
	if len(rec.Tags) > 0 {
		tags, err := sonic.MarshalString(rec.Tags)
		if err != nil {
			return err
		}
		m.Tags = tags
	}
	return nil
}
