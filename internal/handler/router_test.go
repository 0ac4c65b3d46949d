package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/modulation"
	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	personaModel "github.com/zhouzirui/z-companion/backend/internal/model/persona"
	"github.com/zhouzirui/z-companion/backend/internal/service/ai"
	"github.com/zhouzirui/z-companion/backend/internal/service/cache"
	chatService "github.com/zhouzirui/z-companion/backend/internal/service/chat"
	memsvc "github.com/zhouzirui/z-companion/backend/internal/service/memory"
	"github.com/zhouzirui/z-companion/backend/internal/service/orchestrator"
	relsvc "github.com/zhouzirui/z-companion/backend/internal/service/relationship"
	"github.com/zhouzirui/z-companion/backend/internal/store/memstore"
)

type staticGenerator struct{}

func (staticGenerator) Generate(context.Context, ai.Request) (ai.Response, error) {
	return ai.Response{Text: "Doing well! How about you?", TokensUsed: 12}, nil
}

func newEngine(t *testing.T) *orchestrator.Engine {
	t.Helper()
	st := memstore.New()
	queue := orchestrator.NewQueue(orchestrator.QueueConfig{Workers: 1, QueueSize: 16}, nil)
	t.Cleanup(queue.Stop)

	engine, err := orchestrator.New(orchestrator.Deps{
		Memory:       memsvc.NewService(st, memsvc.Config{}, nil),
		Relationship: relsvc.NewTracker(st, 16, time.Minute, nil),
		Generator:    staticGenerator{},
		Queue:        queue,
		Cache:        cache.NewLRU(16, time.Minute),
		Modulation:   modulation.NewRegistry(16, time.Minute, modulation.DefaultOptions()),
	}, orchestrator.Options{})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = queue.Flush(ctx)
	})
	return engine
}

func newTestRouter(t *testing.T, withEngine bool) http.Handler {
	deps := RouterDeps{
		Personas: personaModel.NewMemoryStore(personaModel.Seed()),
		Chats:    chatService.NewService(),
		Health:   Health{AI: withEngine, Store: "memory", Cache: "lru"},
	}
	if withEngine {
		deps.Engine = newEngine(t)
	}
	return NewRouter(deps)
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := sonic.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestHealth(t *testing.T) {
	resp := do(newTestRouter(t, false), http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Status     string `json:"status"`
		Components Health `json:"components"`
	}
	require.NoError(t, sonic.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "memory", body.Components.Store)
	assert.False(t, body.Components.AI)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t, false)
	req := httptest.NewRequest(http.MethodOptions, "/api/personas", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestConversationalRoutesNeedEngine(t *testing.T) {
	r := newTestRouter(t, false)

	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/api/stream/abc?message=hi", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/companion/respond", map[string]string{"message": "hi"}).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/personas", nil).Code)
}

func TestSessionConversationEndToEnd(t *testing.T) {
	r := newTestRouter(t, true)

	created := do(r, http.MethodPost, "/api/session", map[string]string{"userId": "user-1", "personaId": "luna"})
	require.Equal(t, http.StatusCreated, created.Code)
	var session chat.Session
	require.NoError(t, sonic.Unmarshal(created.Body.Bytes(), &session))

	turn := map[string]string{"message": "Hello, how are you today?", "sessionId": session.ID}
	first := do(r, http.MethodPost, "/api/companion/respond", turn)
	require.Equal(t, http.StatusOK, first.Code)

	var res orchestrator.Result
	require.NoError(t, sonic.Unmarshal(first.Body.Bytes(), &res))
	assert.Equal(t, "Doing well! How about you?", res.Content)
	assert.Equal(t, "luna", res.PersonaID)
	assert.NotNil(t, res.Modulation)

	stream := do(r, http.MethodGet, "/api/stream/"+session.ID+"?message=tell+me+more", nil)
	require.Equal(t, http.StatusOK, stream.Code)
	assert.True(t, strings.Contains(stream.Body.String(), `"event":"end"`))

	transcript := do(r, http.MethodGet, "/api/session/"+session.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, transcript.Code)
	var messages []chat.Message
	require.NoError(t, sonic.Unmarshal(transcript.Body.Bytes(), &messages))
	assert.Len(t, messages, 4)
}

func TestStreamRequiresMessage(t *testing.T) {
	r := newTestRouter(t, true)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/stream/abc", nil).Code)
}
