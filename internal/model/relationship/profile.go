package relationship

// SubscriptionTier 存储中记录的用户订阅档位
type SubscriptionTier string

const (
	TierFree    SubscriptionTier = "free"
	TierPlus    SubscriptionTier = "plus"
	TierPremium SubscriptionTier = "premium"
)

// Paid 是否为付费档位
func (t SubscriptionTier) Paid() bool {
	return t == TierPlus || t == TierPremium
}

// Archetype 用户在引导阶段选择的性格类型
type Archetype string

const (
	ArchetypeNurturer Archetype = "nurturer"
	ArchetypeExplorer Archetype = "explorer"
	ArchetypeThinker  Archetype = "thinker"
	ArchetypeDreamer  Archetype = "dreamer"
	ArchetypeUnknown  Archetype = ""
)

// Archetypes 按固定顺序列出所有性格类型
var Archetypes = []Archetype{ArchetypeNurturer, ArchetypeExplorer, ArchetypeThinker, ArchetypeDreamer}

// Profile 持久化的用户关系记录
type Profile struct {
	UserID           string           `json:"userId"`
	DisplayName      string           `json:"displayName,omitempty"`
	PersonaID        string           `json:"personaId,omitempty"`
	Archetype        Archetype        `json:"archetype,omitempty"`
	Subscription     SubscriptionTier `json:"subscription"`
	TrustLevel       float64          `json:"trustLevel"`
	InteractionCount int              `json:"interactionCount"`
}

// Stage 根据信任度推导关系阶段
func (p Profile) Stage() Stage {
	return StageFor(p.TrustLevel)
}

// NewProfile 返回存储中不存在的用户的初次接触画像
func NewProfile(userID string) Profile {
	return Profile{UserID: userID, Subscription: TierFree}
}

// ClampTrust 把信任度限制在 [0,100]
func ClampTrust(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
