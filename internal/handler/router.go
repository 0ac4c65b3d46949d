package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-companion/backend/internal/handler/chat"
	"github.com/zhouzirui/z-companion/backend/internal/handler/live"
	"github.com/zhouzirui/z-companion/backend/internal/handler/persona"
	"github.com/zhouzirui/z-companion/backend/internal/handler/stream"
	"github.com/zhouzirui/z-companion/backend/internal/handler/turn"
	personaModel "github.com/zhouzirui/z-companion/backend/internal/model/persona"
	chatService "github.com/zhouzirui/z-companion/backend/internal/service/chat"
	"github.com/zhouzirui/z-companion/backend/pkg/utils"
)

// Health GET /api/health 返回的内容
type Health struct {
	AI    bool   `json:"ai"`
	Store string `json:"store"`
	Cache string `json:"cache"`
}

// RouterDeps HTTP 层依赖的服务
type RouterDeps struct {
	Personas personaModel.Store
	Chats    *chatService.Service
	// Engine 处理对话轮次，为 nil 时不注册对话相关路由
	Engine         turn.Responder
	Health         Health
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter 把 HTTP 路由连接到核心服务
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	var runner *turn.Runner
	if deps.Engine != nil {
		runner = turn.NewRunner(deps.Engine, deps.Chats, logger)
	}

	personaHandler := persona.New(deps.Personas)
	chatHandler := chat.New(deps.Chats, deps.Personas, runner)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":     "ok",
				"components": deps.Health,
				"time":       time.Now().UTC().Format(time.RFC3339),
			})
		})

		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)

		if runner == nil {
			api.Get("/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "companion engine unavailable")
			})
			return
		}

		streamHandler := stream.New(runner, logger)
		api.Get("/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
			sessionID := chi.URLParam(r, "sessionID")
			userMessage := r.URL.Query().Get("message")
			if userMessage == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}

			if err := streamHandler.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil {
				logger.Warn("stream request failed", zap.String("sessionId", sessionID), zap.Error(err))
			}
		})

		live.NewWebSocketHandler(runner, deps.Chats, deps.Personas, logger).RegisterRoutes(api)
	})

	return r
}

// requestLogger 通过 zap 为每个请求记录一行日志
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(start)),
					zap.String("requestId", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
