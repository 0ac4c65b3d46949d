package chat

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-companion/backend/internal/handler/turn"
	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/z-companion/backend/internal/service/chat"
	"github.com/zhouzirui/z-companion/backend/internal/service/orchestrator"
)

type echoEngine struct{}

func (echoEngine) Respond(_ context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	if req.Message == "" {
		return nil, orchestrator.ErrMessageRequired
	}
	if req.UserID == "" {
		return nil, orchestrator.ErrUserRequired
	}
	return &orchestrator.Result{
		Content:        "I hear you: " + req.Message,
		Sentiment:      emotion.NeutralAssessment(),
		SuggestedDelay: 800,
		PersonaID:      req.PersonaID,
	}, nil
}

func setupRouter() (*chi.Mux, *chatservice.Service, persona.Store) {
	chatSvc := chatservice.NewService()
	store := persona.NewMemoryStore(persona.Seed())
	handler := New(chatSvc, store, turn.NewRunner(echoEngine{}, chatSvc, nil))

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc, store
}

func post(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	payload, _ := sonic.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateSessionValidPersona(t *testing.T) {
	r, _, store := setupRouter()
	personas := store.List()

	resp := post(r, "/session", map[string]string{"userId": "user-1", "personaId": personas[1].ID})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var session chat.Session
	if err := sonic.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.UserID != "user-1" || session.PersonaID != personas[1].ID {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestCreateSessionDefaultsPersona(t *testing.T) {
	r, _, _ := setupRouter()

	resp := post(r, "/session", map[string]string{"userId": "user-1"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	var session chat.Session
	if err := sonic.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.PersonaID != persona.DefaultID {
		t.Fatalf("expected default persona, got %s", session.PersonaID)
	}
}

func TestCreateSessionInvalidPersona(t *testing.T) {
	r, _, _ := setupRouter()

	resp := post(r, "/session", map[string]string{"userId": "user-1", "personaId": "non-existent"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCreateSessionMissingUser(t *testing.T) {
	r, _, _ := setupRouter()

	resp := post(r, "/session", map[string]string{"personaId": "luna"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestRespondRecordsSessionTurn(t *testing.T) {
	r, chatSvc, _ := setupRouter()
	session, err := chatSvc.CreateSession(context.Background(), "user-1", "kai")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	resp := post(r, "/companion/respond", map[string]string{"message": "long day", "sessionId": session.ID})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var res orchestrator.Result
	if err := sonic.Unmarshal(resp.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Content != "I hear you: long day" || res.PersonaID != "kai" {
		t.Fatalf("unexpected result %+v", res)
	}

	get := httptest.NewRecorder()
	r.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/session/"+session.ID+"/messages", nil))
	if get.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", get.Code)
	}
	var transcript []chat.Message
	if err := sonic.Unmarshal(get.Body.Bytes(), &transcript); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(transcript) != 2 {
		t.Fatalf("expected 2 recorded messages, got %d", len(transcript))
	}
}

func TestRespondErrors(t *testing.T) {
	r, _, _ := setupRouter()

	if resp := post(r, "/companion/respond", map[string]string{"message": "hi"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("missing user: expected 400, got %d", resp.Code)
	}
	if resp := post(r, "/companion/respond", map[string]string{"message": "hi", "sessionId": "missing"}); resp.Code != http.StatusNotFound {
		t.Fatalf("missing session: expected 404, got %d", resp.Code)
	}

	bad := httptest.NewRequest(http.MethodPost, "/companion/respond", bytes.NewReader([]byte("{")))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, bad)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("bad body: expected 400, got %d", resp.Code)
	}
}
