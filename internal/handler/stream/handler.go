package stream

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-companion/backend/internal/handler/turn"
	"github.com/zhouzirui/z-companion/backend/internal/service/orchestrator"
	"github.com/zhouzirui/z-companion/backend/pkg/utils"
)

// ErrStreamingUnsupported 响应写入器不支持 flush
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// Handler 通过 Server-Sent Events 流式输出一轮对话
type Handler struct {
	runner *turn.Runner
	logger *zap.Logger
}

// New 创建流式处理器
func New(runner *turn.Runner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{runner: runner, logger: logger.Named("stream")}
}

// StreamResponse 流式响应块
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleStreamRequest 为会话执行一轮对话并流式返回回复
// / 事件顺序：start、sentiment、delta（每句一个）、message、modulation（可用时）、end。
// 危机回复作为单个 delta 发送，求助资源不会被拆开
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreamingUnsupported
	}

	utils.SetupSSEHeaders(w)

	res, err := h.runner.Run(ctx, orchestrator.Request{Message: userMessage, SessionID: sessionID})
	if err != nil {
		h.sendSSE(w, flusher, StreamResponse{Event: "error", SessionID: sessionID, Error: err.Error()})
		return err
	}

	h.sendSSE(w, flusher, StreamResponse{Event: "start", SessionID: sessionID, Data: map[string]any{
		"personaId":      res.PersonaID,
		"suggestedDelay": res.SuggestedDelay,
		"cached":         res.Cached,
	}})
	h.sendSSE(w, flusher, StreamResponse{Event: "sentiment", SessionID: sessionID, Data: res.Sentiment})

	chunks := []string{res.Content}
	if !res.Crisis {
		chunks = SplitSentences(res.Content)
	}
	for _, chunk := range chunks {
		h.sendSSE(w, flusher, StreamResponse{Event: "delta", SessionID: sessionID, Content: chunk})
	}

	h.sendSSE(w, flusher, StreamResponse{Event: "message", SessionID: sessionID, Content: res.Content, Data: map[string]any{
		"resonance":               res.Resonance,
		"shouldTriggerConversion": res.ShouldTriggerConversion,
		"crisis":                  res.Crisis,
	}})

	if res.Modulation != nil {
		h.sendSSE(w, flusher, StreamResponse{Event: "modulation", SessionID: sessionID, Data: res.Modulation})
	}

	h.sendSSE(w, flusher, StreamResponse{Event: "end", SessionID: sessionID, Finished: true})

	h.logger.Debug("stream completed", zap.String("sessionId", sessionID), zap.Int("chunks", len(chunks)))
	return nil
}

// SplitSentences 在句末标点之后切分文本，标点和后随空白归属前一句
func SplitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i, r := range runes {
		if !strings.ContainsRune(".!?。！？", r) {
			continue
		}
		end := i + 1
		for end < len(runes) && strings.ContainsRune(".!?。！？", runes[end]) {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) && r < unicode.MaxLatin1 {
			continue
		}
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		if end > start {
			out = append(out, string(runes[start:end]))
			start = end
		}
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEChunk(w, flusher, response)
}
