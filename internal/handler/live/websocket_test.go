package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-companion/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-companion/backend/internal/analysis/modulation"
	"github.com/zhouzirui/z-companion/backend/internal/handler/turn"
	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/z-companion/backend/internal/service/chat"
	"github.com/zhouzirui/z-companion/backend/internal/service/orchestrator"
)

type modulatedEngine struct{}

func (modulatedEngine) Respond(_ context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	return &orchestrator.Result{
		Content:   "Oh, that's wonderful news!",
		Sentiment: emotion.Assessment{Emotion: emotion.Joy, Intensity: 7},
		Modulation: &modulation.Parameters{
			Vector:    modulation.Vector{PitchShift: 1, RateAdjust: 0.1, Breathiness: 0.2, Resonance: 0.5},
			AIEmotion: modulation.Cheerful,
		},
		PersonaID: req.PersonaID,
	}, nil
}

type frame struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func startServer(t *testing.T) (*httptest.Server, *chatservice.Service) {
	t.Helper()
	chatSvc := chatservice.NewService()
	personas := persona.NewMemoryStore(persona.Seed())
	h := NewWebSocketHandler(turn.NewRunner(modulatedEngine{}, chatSvc, nil), chatSvc, personas, nil)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, chatSvc
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + sessionID
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, sonic.Unmarshal(data, &f))
	return f
}

func send(t *testing.T, c *websocket.Conn, msgType string, data any) {
	t.Helper()
	payload, err := sonic.Marshal(map[string]any{"type": msgType, "data": data})
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, payload))
}

func TestLiveTurnSendsReplyAndTTSRequest(t *testing.T) {
	srv, chatSvc := startServer(t)
	session, err := chatSvc.CreateSession(context.Background(), "user-1", "kai")
	require.NoError(t, err)

	c := dial(t, srv, session.ID)
	hello := readFrame(t, c)
	assert.Equal(t, "connected", hello.Data["type"])
	assert.Equal(t, "kai", hello.Data["persona"])

	send(t, c, "text", map[string]string{"text": "I got the job!"})

	reply := readFrame(t, c)
	assert.Equal(t, "result", reply.Type)
	assert.Equal(t, "reply", reply.Data["type"])
	assert.Equal(t, "Oh, that's wonderful news!", reply.Data["content"])

	tts := readFrame(t, c)
	assert.Equal(t, "tts", tts.Data["type"])
	req, ok := tts.Data["request"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 1.1, req["speedRatio"], 1e-9)
	assert.Equal(t, "happy", req["emotion"])

	transcript, err := chatSvc.LoadTranscript(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, transcript, 2)
}

func TestLiveConfigDisablesTTS(t *testing.T) {
	srv, chatSvc := startServer(t)
	session, err := chatSvc.CreateSession(context.Background(), "user-1", "luna")
	require.NoError(t, err)

	c := dial(t, srv, session.ID)
	readFrame(t, c)

	send(t, c, "config", map[string]any{"ttsEnabled": false, "voice": "zh_female_qingxin"})
	cfg := readFrame(t, c)
	assert.Equal(t, "config", cfg.Data["type"])
	assert.Equal(t, false, cfg.Data["tts"])
	assert.Equal(t, "zh_female_qingxin", cfg.Data["voice"])

	send(t, c, "text", map[string]string{"text": "hi"})
	assert.Equal(t, "reply", readFrame(t, c).Data["type"])

	send(t, c, "dance", nil)
	errFrame := readFrame(t, c)
	assert.Equal(t, "error", errFrame.Type)
}

func TestLiveUnknownSessionIsRejected(t *testing.T) {
	srv, _ := startServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApplyConfigUpdatesState(t *testing.T) {
	state := newConnectionState("session", persona.Seed()[0])
	assert.True(t, state.ttsEnabled)
	assert.Equal(t, persona.Seed()[0].VoiceID, state.voice)

	off := false
	applyConfig(state, ConfigMessage{Voice: "new-voice", TTSEnabled: &off})
	assert.Equal(t, "new-voice", state.voice)
	assert.False(t, state.ttsEnabled)

	applyConfig(state, ConfigMessage{})
	assert.Equal(t, "new-voice", state.voice)
}
