package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostchat/internal/domain"
	"hostchat/internal/logging"
	"hostchat/internal/ratelimit"
	"hostchat/internal/relay"
	"hostchat/internal/security"
	"hostchat/internal/service"
)

const testOrigin = "http://localhost:3000"

type fakeChat struct {
	mu    sync.Mutex
	sends []service.SendMessageInput
	reads []string
}

func (f *fakeChat) SendMessage(_ context.Context, in service.SendMessageInput) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.Content.Text == "blocked" {
		return nil, domain.ModerationBlockedError("Your message was blocked", []string{"EMAIL"})
	}
	f.sends = append(f.sends, in)
	return &domain.Message{ID: "msg-" + in.ClientMessageID, ConversationID: in.ConversationID}, nil
}

func (f *fakeChat) MarkAsRead(_ context.Context, conversationID, userID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, ids...)
	return nil
}

type testServer struct {
	srv    *httptest.Server
	tokens *security.TokenService
	chat   *fakeChat
}

func newTestServer(t *testing.T, capacity int) *testServer {
	t.Helper()
	log := logging.Discard()
	tokens := security.NewTokenService("test-secret", time.Hour)
	hub := NewHub()
	bus := NewBus(hub, relay.NewLocal(), testConversations(), "test", log)
	limiter := ratelimit.NewMemoryRateLimiter(capacity, time.Minute)
	t.Cleanup(limiter.Close)
	chat := &fakeChat{}
	h := NewHandler(hub, bus, chat, tokens, limiter, HandlerConfig{
		AllowedOrigins: []string{testOrigin},
		TypingTimeout:  3 * time.Second,
	}, log)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.CloseAll(context.Background())
		srv.Close()
	})
	return &testServer{srv: srv, tokens: tokens, chat: chat}
}

func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *testServer) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := s.tokens.CreateForUser(userID, "Test", false)
	require.NoError(t, err)
	header := http.Header{}
	header.Set("Origin", testOrigin)
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(s.url(), header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	ready := readFrame(t, conn)
	require.Equal(t, EventReady, ready.Event)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func writeFrame(t *testing.T, conn *websocket.Conn, event string, ack any, data any) {
	t.Helper()
	payload := map[string]any{"event": event, "data": data}
	if ack != nil {
		payload["ack"] = ack
	}
	require.NoError(t, conn.WriteJSON(payload))
}

func TestHandler_RejectsBeforeUpgrade(t *testing.T) {
	s := newTestServer(t, 10)

	header := http.Header{}
	header.Set("Origin", testOrigin)
	_, resp, err := websocket.DefaultDialer.Dial(s.url(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header.Set("Authorization", "Bearer not-a-jwt")
	_, resp, err = websocket.DefaultDialer.Dial(s.url(), header)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := s.tokens.CreateForUser("guest-1", "", false)
	require.NoError(t, err)
	bad := http.Header{}
	bad.Set("Origin", "http://evil.example")
	bad.Set("Authorization", "Bearer "+token)
	_, resp, err = websocket.DefaultDialer.Dial(s.url(), bad)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_ReadyAndQueryToken(t *testing.T) {
	s := newTestServer(t, 10)
	token, err := s.tokens.CreateForUser("guest-1", "Guest", false)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Origin", testOrigin)
	conn, _, err := websocket.DefaultDialer.Dial(s.url()+"?token="+token, header)
	require.NoError(t, err)
	defer conn.Close()

	f := readFrame(t, conn)
	assert.Equal(t, EventReady, f.Event)
	var data readyData
	require.NoError(t, json.Unmarshal(f.Data, &data))
	assert.Equal(t, "guest-1", data.UserID)
	assert.Equal(t, int64(3000), data.TypingTimeoutMs)
	assert.NotEmpty(t, data.ConnectionID)
}

func TestHandler_SendAcks(t *testing.T) {
	s := newTestServer(t, 10)
	conn := s.dial(t, "guest-1")

	writeFrame(t, conn, "message:send", 7, map[string]any{
		"conversationId":  "c1",
		"content":         map[string]any{"text": "hello"},
		"type":            "text",
		"clientMessageId": "tok-1",
	})
	f := readFrame(t, conn)
	assert.Equal(t, EventAck, f.Event)
	assert.JSONEq(t, `7`, string(f.Ack))
	var ack ackData
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	assert.True(t, ack.Success)
	assert.Equal(t, "msg-tok-1", ack.MessageID)

	s.chat.mu.Lock()
	require.Len(t, s.chat.sends, 1)
	assert.Equal(t, "guest-1", s.chat.sends[0].SenderID)
	s.chat.mu.Unlock()

	writeFrame(t, conn, "send", "b", map[string]any{
		"conversationId":  "c1",
		"content":         map[string]any{"text": "blocked"},
		"clientMessageId": "tok-2",
	})
	f = readFrame(t, conn)
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	assert.False(t, ack.Success)
	assert.Contains(t, ack.Error, "blocked")

	writeFrame(t, conn, "send", nil, map[string]any{"conversationId": "c1"})
	f = readFrame(t, conn)
	assert.Equal(t, EventAck, f.Event)
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	assert.False(t, ack.Success)
}

func TestHandler_RateLimit(t *testing.T) {
	s := newTestServer(t, 2)
	conn := s.dial(t, "guest-1")
	send := func(id string) {
		writeFrame(t, conn, "send", id, map[string]any{
			"conversationId":  "c1",
			"content":         map[string]any{"text": "hi"},
			"clientMessageId": id,
		})
	}

	for _, id := range []string{"a", "b"} {
		send(id)
		var ack ackData
		require.NoError(t, json.Unmarshal(readFrame(t, conn).Data, &ack))
		assert.True(t, ack.Success)
	}

	send("c")
	ackFrame := readFrame(t, conn)
	var ack ackData
	require.NoError(t, json.Unmarshal(ackFrame.Data, &ack))
	assert.False(t, ack.Success)
	assert.Contains(t, ack.Error, "Rate limit exceeded")

	errFrame := readFrame(t, conn)
	assert.Equal(t, EventError, errFrame.Event)
	var e errorData
	require.NoError(t, json.Unmarshal(errFrame.Data, &e))
	assert.Equal(t, domain.CodeRateLimited, e.Code)
	assert.GreaterOrEqual(t, e.RetryAfter, 1)
	assert.LessOrEqual(t, e.RetryAfter, 60)
}

func TestHandler_JoinTypingAndErrors(t *testing.T) {
	s := newTestServer(t, 10)
	guest := s.dial(t, "guest-1")
	host := s.dial(t, "host-1")
	stranger := s.dial(t, "stranger")

	writeFrame(t, stranger, "conversation:join", nil, map[string]any{"conversationId": "c1"})
	f := readFrame(t, stranger)
	assert.Equal(t, EventError, f.Event)
	var e errorData
	require.NoError(t, json.Unmarshal(f.Data, &e))
	assert.Equal(t, domain.CodeNotParticipant, e.Code)

	writeFrame(t, guest, "join", nil, map[string]any{"conversationId": "c1"})
	writeFrame(t, host, "join", nil, map[string]any{"conversationId": "c1"})
	// a round trip on each socket makes sure both joins were processed
	writeFrame(t, guest, "bogus", nil, map[string]any{})
	assert.Equal(t, EventError, readFrame(t, guest).Event)
	writeFrame(t, host, "bogus", nil, map[string]any{})
	assert.Equal(t, EventError, readFrame(t, host).Event)

	writeFrame(t, guest, "typing:start", nil, map[string]any{"conversationId": "c1"})
	f = readFrame(t, host)
	assert.Equal(t, EventTypingUpdate, f.Event)
	var typing typingData
	require.NoError(t, json.Unmarshal(f.Data, &typing))
	assert.Equal(t, typingData{ConversationID: "c1", UserID: "guest-1", IsTyping: true}, typing)

	writeFrame(t, host, "message:read", nil, map[string]any{"conversationId": "c1", "messageIds": []string{"m1"}})
	writeFrame(t, host, "bogus", nil, map[string]any{})
	assert.Equal(t, EventError, readFrame(t, host).Event)
	s.chat.mu.Lock()
	assert.Equal(t, []string{"m1"}, s.chat.reads)
	s.chat.mu.Unlock()

	require.NoError(t, guest.WriteMessage(websocket.TextMessage, []byte("not json")))
	f = readFrame(t, guest)
	assert.Equal(t, EventError, f.Event)
}

func TestMakeCheckOrigin(t *testing.T) {
	check := makeCheckOrigin([]string{"http://localhost:3000/", "https://app.example.com"})
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, check(req("http://localhost:3000")))
	assert.True(t, check(req("https://APP.example.com")))
	assert.False(t, check(req("https://other.example.com")))
	assert.False(t, check(req("")))

	assert.False(t, makeCheckOrigin(nil)(req("http://localhost:3000")))
	assert.True(t, makeCheckOrigin([]string{"*"})(req("https://anything.example")))
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", extractToken(r))

	r.Header.Set("Sec-WebSocket-Protocol", "bearer, p")
	assert.Equal(t, "p", extractToken(r))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", extractToken(r))
}
