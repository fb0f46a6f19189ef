package apiserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent/genruntime/internal/generation"
	"github.com/multi-agent/genruntime/internal/turn"
)

func init() { gin.SetMode(gin.TestMode) }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type fakeHistory struct {
	items []generation.AssistantMessage
	limit int
	err   error
}

func (h *fakeHistory) ListByConversation(_ context.Context, _ string, limit int) ([]generation.AssistantMessage, error) {
	h.limit = limit
	return h.items, h.err
}

func newTestServer(opts Options) (*Server, *turn.Manager) {
	bus := NewEventBus()
	mgr := turn.NewManager(turn.Options{Publisher: bus})
	return NewServer(mgr, bus, opts), mgr
}

func do(t *testing.T, s *Server, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func begin(t *testing.T, s *Server) {
	t.Helper()
	code, env := do(t, s, http.MethodPost, "/api/generations", `{"generationId":"g1","conversationId":"c1"}`)
	require.Equal(t, http.StatusCreated, code)
	require.True(t, env.Success)
}

func deliver(t *testing.T, s *Server, frame string) generation.Outcome {
	t.Helper()
	code, env := do(t, s, http.MethodPost, "/api/generations/g1/events?conversationId=c1", frame)
	require.Equal(t, http.StatusOK, code, "frame %s", frame)
	return decodeData[generation.Outcome](t, env)
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestBeginValidation(t *testing.T) {
	s, _ := newTestServer(Options{})
	code, env := do(t, s, http.MethodPost, "/api/generations", `{"generationId":"g1"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Equal(t, "invalid_input", env.Error.Code)

	code, _ = do(t, s, http.MethodPost, "/api/generations", `{"generationId":"  ","conversationId":"c1"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBeginLaunchesTransport(t *testing.T) {
	var launched []generation.Scope
	s, _ := newTestServer(Options{Launch: func(tr *turn.Turn) { launched = append(launched, tr.Scope()) }})
	begin(t, s)
	require.Len(t, launched, 1)
	assert.Equal(t, "g1", launched[0].GenerationID)
}

func TestTurnLifecycleOverHTTP(t *testing.T) {
	s, mgr := newTestServer(Options{})
	begin(t, s)

	assert.True(t, deliver(t, s, `{"type":"tool_call","id":"t1","name":"Search","input":{"q":"go"}}`).Applied)
	assert.True(t, deliver(t, s, `{"type":"tool_result","toolUseId":"t1","result":"ok"}`).Applied)
	dup := deliver(t, s, `{"type":"tool_result","toolUseId":"t1","result":"ok"}`)
	assert.False(t, dup.Applied)
	assert.Equal(t, generation.ReasonDuplicate, dup.Reason)
	assert.True(t, deliver(t, s, `{"type":"text","delta":"Found it."}`).Applied)

	code, env := do(t, s, http.MethodGet, "/api/conversations/c1/snapshot", "")
	require.Equal(t, http.StatusOK, code)
	snap := decodeData[generation.Snapshot](t, env)
	assert.Equal(t, generation.TraceStreaming, snap.TraceStatus)
	assert.Len(t, snap.Parts, 2)

	code, env = do(t, s, http.MethodGet, "/api/conversations/c1/message", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Found it.", decodeData[generation.AssistantMessage](t, env).Content)

	code, env = do(t, s, http.MethodGet, "/api/conversations/c1/stats", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decodeData[generation.ActivityStats](t, env).CompletedToolCalls)

	code, _ = do(t, s, http.MethodGet, "/api/conversations/c1/finalized", "")
	assert.Equal(t, http.StatusNotFound, code)

	assert.True(t, deliver(t, s, `{"type":"done","messageId":"m1"}`).Applied)

	code, env = do(t, s, http.MethodGet, "/api/conversations/c1/finalized", "")
	require.Equal(t, http.StatusOK, code)
	f := decodeData[turn.Finalized](t, env)
	assert.Equal(t, "m1", f.Message.ID)
	assert.Equal(t, generation.TraceComplete, f.Message.Status)

	code, env = do(t, s, http.MethodGet, "/api/conversations/c1/messages", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]generation.AssistantMessage](t, env), 1)

	_, ok := mgr.Finalized("c1")
	assert.True(t, ok)
}

func TestDeliverErrors(t *testing.T) {
	s, _ := newTestServer(Options{})

	tests := []struct {
		name     string
		path     string
		frame    string
		wantCode int
		wantErr  string
	}{
		{"no active turn", "/api/generations/g1/events?conversationId=c1", `{"type":"text","delta":"x"}`, http.StatusNotFound, "not_found"},
		{"unknown type", "/api/generations/g1/events?conversationId=c1", `{"type":"telemetry"}`, http.StatusBadRequest, "unknown_event"},
		{"invalid json", "/api/generations/g1/events?conversationId=c1", `{oops`, http.StatusBadRequest, "invalid_input"},
		{"missing conversation", "/api/generations/g1/events", `{"type":"text","delta":"x"}`, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, s, http.MethodPost, tt.path, tt.frame)
			assert.Equal(t, tt.wantCode, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantErr, env.Error.Code)
		})
	}

	begin(t, s)
	code, env := do(t, s, http.MethodPost, "/api/generations/g-old/events?conversationId=c1", `{"type":"text","delta":"x"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "scope_mismatch", env.Error.Code)

	// 会话 id 取自帧标签
	code, _ = do(t, s, http.MethodPost, "/api/generations/g1/events", `{"type":"text","conversationId":"c1","delta":"tagged"}`)
	assert.Equal(t, http.StatusOK, code)
}

func TestCommandsOverHTTP(t *testing.T) {
	s, _ := newTestServer(Options{})
	begin(t, s)

	deliver(t, s, `{"type":"pending_approval","toolUseId":"t1","toolName":"send_email","integration":"gmail","operation":"send"}`)

	code, env := do(t, s, http.MethodGet, "/api/conversations/c1/blocks", "")
	require.Equal(t, http.StatusOK, code)
	blocks := decodeData[[]generation.DisplayBlock](t, env)
	require.NotEmpty(t, blocks)
	assert.Equal(t, generation.BlockCheckpoint, blocks[0].Kind)

	code, env = do(t, s, http.MethodPost, "/api/conversations/c1/approval", `{"toolUseId":"t1","status":"Approved"}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decodeData[generation.Outcome](t, env).Applied)

	code, env = do(t, s, http.MethodPost, "/api/conversations/c1/approval", `{"toolUseId":"t1","status":"maybe"}`)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, decodeData[generation.Outcome](t, env).Applied)

	code, _ = do(t, s, http.MethodPost, "/api/conversations/c1/approval", `{"status":"approved"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	deliver(t, s, `{"type":"auth_needed","integrations":["slack"]}`)
	code, env = do(t, s, http.MethodPost, "/api/conversations/c1/auth", `{"action":"connecting"}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decodeData[generation.Outcome](t, env).Applied)

	code, env = do(t, s, http.MethodPost, "/api/conversations/c1/auth", `{"action":"teleport"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_input", env.Error.Code)

	code, env = do(t, s, http.MethodPost, "/api/conversations/c1/segments/segment-1", `{"expanded":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decodeData[generation.Outcome](t, env).Applied)

	code, _ = do(t, s, http.MethodPost, "/api/conversations/c1/segments/segment-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, s, http.MethodPost, "/api/conversations/c1/cancel", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decodeData[generation.Outcome](t, env).Applied)

	code, env = do(t, s, http.MethodGet, "/api/conversations/c1/snapshot", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, generation.TraceCancelled, decodeData[generation.Snapshot](t, env).TraceStatus)

	code, _ = do(t, s, http.MethodPost, "/api/conversations/c9/cancel", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListMessagesUsesHistory(t *testing.T) {
	history := &fakeHistory{items: []generation.AssistantMessage{{ID: "m1"}, {ID: "m0"}}}
	s, _ := newTestServer(Options{History: history, ListLimit: 20})

	code, env := do(t, s, http.MethodGet, "/api/conversations/c1/messages", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]generation.AssistantMessage](t, env), 2)
	assert.Equal(t, 20, history.limit)

	do(t, s, http.MethodGet, "/api/conversations/c1/messages?limit=100000", "")
	assert.Equal(t, maxListLimit, history.limit)

	do(t, s, http.MethodGet, "/api/conversations/c1/messages?limit=abc", "")
	assert.Equal(t, 20, history.limit)

	history.err = errors.New("db down")
	code, env = do(t, s, http.MethodGet, "/api/conversations/c1/messages", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal_error", env.Error.Code)
}

func TestEventBusFiltersByConversation(t *testing.T) {
	bus := NewEventBus()
	all := bus.Subscribe("all", "")
	only := bus.Subscribe("c2-only", "c2")
	assert.Equal(t, 2, bus.Subscribers())

	bus.PublishSnapshot("c1", generation.Snapshot{})
	bus.PublishFinalized(turn.Finalized{Message: generation.AssistantMessage{ConversationID: "c2"}})

	assert.Len(t, all, 2)
	require.Len(t, only, 1)
	evt := <-only
	assert.Equal(t, EventFinalized, evt.Type)

	bus.Unsubscribe("all")
	bus.Unsubscribe("c2-only")
	assert.Equal(t, 0, bus.Subscribers())
}

func TestEventBusDropsWhenBacklogFull(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("slow", "")
	for range subscriberBuffer + 10 {
		bus.PublishSnapshot("c1", generation.Snapshot{})
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestSSEStreamsSnapshots(t *testing.T) {
	s, _ := newTestServer(Options{SSEKeepalive: time.Hour})
	ts := httptest.NewServer(s.Engine())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?conversationId=c1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	waitEvent := func(name string) {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.TrimSpace(line) == "event:"+name {
				return
			}
		}
	}
	waitEvent("ready")

	begin(t, s)
	deliver(t, s, `{"type":"text","delta":"hi"}`)
	waitEvent(EventSnapshot)

	deliver(t, s, `{"type":"done"}`)
	waitEvent(EventFinalized)
}
