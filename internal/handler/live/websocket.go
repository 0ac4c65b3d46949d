package live

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-companion/backend/internal/handler/turn"
	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/z-companion/backend/internal/service/chat"
	"github.com/zhouzirui/z-companion/backend/internal/service/orchestrator"
	"github.com/zhouzirui/z-companion/backend/internal/service/speech"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// WebSocketHandler 实时对话处理器
type WebSocketHandler struct {
	runner       *turn.Runner
	chatSvc      *chatservice.Service
	personaStore persona.Store
	upgrader     websocket.Upgrader
	logger       *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(runner *turn.Runner, chatSvc *chatservice.Service, personaStore persona.Store, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		runner:       runner,
		chatSvc:      chatSvc,
		personaStore: personaStore,
		logger:       logger.Named("live"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 配置消息
type ConfigMessage struct {
	Voice      string `json:"voice"`
	TTSEnabled *bool  `json:"ttsEnabled,omitempty"`
}

// OutgoingMessage 服务端写出的所有帧
type OutgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type connectionState struct {
	sessionID  string
	persona    persona.Persona
	voice      string
	ttsEnabled bool
}

func newConnectionState(sessionID string, p persona.Persona) *connectionState {
	return &connectionState{
		sessionID:  sessionID,
		persona:    p,
		voice:      p.VoiceID,
		ttsEnabled: true,
	}
}

// conn 串行化写操作，gorilla 只允许一个并发写者
type conn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.WriteMessage(websocket.TextMessage, data)
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	state := newConnectionState(sessionID, persona.Resolve(h.personaStore, session.PersonaID))

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := &conn{Conn: ws}
	defer c.Close()

	h.logger.Info("connection opened", zap.String("sessionId", sessionID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, c)

	h.sendInfo(c, sessionID, map[string]any{
		"type":    "connected",
		"persona": state.persona.ID,
		"voice":   state.voice,
	})

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read error", zap.String("sessionId", sessionID), zap.Error(err))
			}
			return
		}
		_ = c.SetReadDeadline(time.Now().Add(readTimeout))

		var msg inboundMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			h.sendError(c, "invalid message")
			continue
		}
		if msg.SessionID != "" && msg.SessionID != sessionID {
			h.sendError(c, "session mismatch")
			continue
		}

		h.handleMessage(ctx, c, state, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, c *conn, state *connectionState, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		h.handleTextMessage(ctx, c, state, msg.Data)
	case "config":
		h.handleConfigMessage(c, state, msg.Data)
	default:
		h.sendError(c, "unsupported message type: "+msg.Type)
	}
}

func (h *WebSocketHandler) handleTextMessage(ctx context.Context, c *conn, state *connectionState, raw json.RawMessage) {
	var text TextMessage
	if err := sonic.Unmarshal(raw, &text); err != nil {
		h.sendError(c, "invalid text payload")
		return
	}
	if strings.TrimSpace(text.Text) == "" {
		return
	}

	res, err := h.runner.Run(ctx, orchestrator.Request{Message: text.Text, SessionID: state.sessionID})
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	h.sendInfo(c, state.sessionID, map[string]any{
		"type":                    "reply",
		"content":                 res.Content,
		"sentiment":               res.Sentiment,
		"suggestedDelay":          res.SuggestedDelay,
		"resonance":               res.Resonance,
		"shouldTriggerConversion": res.ShouldTriggerConversion,
		"crisis":                  res.Crisis,
		"cached":                  res.Cached,
	})

	if state.ttsEnabled && res.Modulation != nil {
		h.sendInfo(c, state.sessionID, map[string]any{
			"type":    "tts",
			"request": speech.BuildTTSRequest(state.sessionID, res.Content, state.voice, *res.Modulation),
		})
	}
}

func (h *WebSocketHandler) handleConfigMessage(c *conn, state *connectionState, raw json.RawMessage) {
	var cfg ConfigMessage
	if err := sonic.Unmarshal(raw, &cfg); err != nil {
		h.sendError(c, "invalid config payload")
		return
	}

	applyConfig(state, cfg)

	h.sendInfo(c, state.sessionID, map[string]any{
		"type":  "config",
		"voice": state.voice,
		"tts":   state.ttsEnabled,
	})
}

func applyConfig(state *connectionState, cfg ConfigMessage) {
	if cfg.Voice != "" {
		state.voice = cfg.Voice
	}
	if cfg.TTSEnabled != nil {
		state.ttsEnabled = *cfg.TTSEnabled
	}
}

func (h *WebSocketHandler) sendInfo(c *conn, sessionID string, data map[string]any) {
	msg := OutgoingMessage{
		Type:      "result",
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := c.writeJSON(msg); err != nil {
		h.logger.Debug("write info failed", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(c *conn, message string) {
	msg := OutgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := c.writeJSON(msg); err != nil {
		h.logger.Debug("write error failed", zap.Error(err))
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
