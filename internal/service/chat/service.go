package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
)

var (
	ErrUserRequired    = errors.New("user id is required")
	ErrSessionNotFound = errors.New("session not found")
)

const (
	defaultMaxSessions = 10000
	defaultSessionTTL  = 2 * time.Hour
	defaultMaxMessages = 200
)

// Option 配置 Service
type Option func(*Service)

// WithMaxSessions 限制保留的会话数，优先淘汰最久未活跃的会话
func WithMaxSessions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithSessionTTL 清理空闲超过 ttl 的会话
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxMessages 限制单个会话的消息条数，超出时丢弃最早的消息
func WithMaxMessages(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxMessages = n
		}
	}
}

type conversation struct {
	session  chat.Session
	messages []chat.Message
}

// Service 在进程内保存会话及其消息记录，每次写入都会刷新会话的空闲期限
type Service struct {
	mu            sync.Mutex
	conversations *expirable.LRU[string, *conversation]

	maxSessions int
	ttl         time.Duration
	maxMessages int
	now         func() time.Time
}

// NewService 初始化内存聊天服务
func NewService(opts ...Option) *Service {
	s := &Service{
		maxSessions: defaultMaxSessions,
		ttl:         defaultSessionTTL,
		maxMessages: defaultMaxMessages,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.conversations = expirable.NewLRU[string, *conversation](s.maxSessions, nil, s.ttl)
	return s
}

// CreateSession 创建绑定用户与陪伴角色的会话，persona id 为空时由调用方解析为默认角色
func (s *Service) CreateSession(_ context.Context, userID, personaID string) (chat.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return chat.Session{}, ErrUserRequired
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		PersonaID: personaID,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.conversations.Add(session.ID, &conversation{session: session, messages: make([]chat.Message, 0, 16)})
	s.mu.Unlock()

	return session, nil
}

// SaveMessage 追加消息到会话历史
func (s *Service) SaveMessage(_ context.Context, message chat.Message) error {
	if message.SessionID == "" {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(message)
}

func (s *Service) appendLocked(message chat.Message) error {
	conv, ok := s.conversations.Get(message.SessionID)
	if !ok {
		return ErrSessionNotFound
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now()
	}

	conv.messages = append(conv.messages, message)
	if over := len(conv.messages) - s.maxMessages; over > 0 {
		conv.messages = append(conv.messages[:0:0], conv.messages[over:]...)
	}
	// 重新写入以刷新空闲期限
	s.conversations.Add(message.SessionID, conv)
	return nil
}

// GetSession 根据ID获取会话
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations.Get(sessionID)
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return conv.session, nil
}

// LoadTranscript 返回消息记录的副本，按时间正序
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return append([]chat.Message(nil), conv.messages...), nil
}

// RecordTurn 按顺序保存用户消息和角色回复。
// 两条消息在同一把锁内写入，并发轮次不会交错
func (s *Service) RecordTurn(_ context.Context, sessionID, userText, reply, emotion string) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(chat.Message{SessionID: sessionID, Role: chat.RoleUser, Content: userText, Emotion: emotion, CreatedAt: now}); err != nil {
		return err
	}
	return s.appendLocked(chat.Message{SessionID: sessionID, Role: chat.RoleAssistant, Content: reply, CreatedAt: now})
}

// Len 返回当前存活的会话数
func (s *Service) Len() int {
	return s.conversations.Len()
}
