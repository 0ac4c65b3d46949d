package turn

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	chatService "github.com/zhouzirui/z-companion/backend/internal/service/chat"
	"github.com/zhouzirui/z-companion/backend/internal/service/orchestrator"
)

// Responder 回答一轮用户输入
type Responder interface {
	Respond(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Runner 把一轮对话绑定到聊天会话：用会话记录作为历史，结束后写回本轮消息。
// 没有会话的请求按调用方提供的历史无状态处理
type Runner struct {
	engine Responder
	chats  *chatService.Service
	logger *zap.Logger
}

// NewRunner 创建轮次执行器
func NewRunner(engine Responder, chats *chatService.Service, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{engine: engine, chats: chats, logger: logger.Named("turn")}
}

// Run 回答 req。设置了 req.SessionID 时，以会话中的用户和角色为准
func (r *Runner) Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	if req.SessionID != "" {
		session, err := r.chats.GetSession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		history, err := r.chats.LoadTranscript(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		req.UserID = session.UserID
		req.PersonaID = session.PersonaID
		req.History = history
	}

	res, err := r.engine.Respond(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.SessionID != "" {
		if err := r.chats.RecordTurn(ctx, req.SessionID, req.Message, res.Content, string(res.Sentiment.Emotion)); err != nil {
			r.logger.Warn("failed to record turn", zap.String("sessionId", req.SessionID), zap.Error(err))
		}
	}
	return res, nil
}

// Status 把 Run 的错误映射为 HTTP 状态码
func Status(err error) int {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrMessageRequired),
		errors.Is(err, orchestrator.ErrUserRequired),
		errors.Is(err, chatService.ErrUserRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
