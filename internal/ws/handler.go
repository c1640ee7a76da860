package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hostchat/internal/domain"
	"hostchat/internal/ratelimit"
	"hostchat/internal/service"
)

// Chat is the slice of the chat service the socket surface drives.
type Chat interface {
	SendMessage(ctx context.Context, in service.SendMessageInput) (*domain.Message, error)
	MarkAsRead(ctx context.Context, conversationID, userID string, messageIDs []string) error
}

type Authenticator interface {
	Authenticate(token string) (domain.Identity, error)
}

type HandlerConfig struct {
	AllowedOrigins []string
	TypingTimeout  time.Duration
}

// Handler serves the /ws endpoint.
type Handler struct {
	hub           *Hub
	bus           *Bus
	chat          Chat
	auth          Authenticator
	limiter       ratelimit.Limiter
	upgrader      websocket.Upgrader
	checkOrigin   func(*http.Request) bool
	typingTimeout time.Duration
	log           *slog.Logger
	wg            sync.WaitGroup
}

func NewHandler(hub *Hub, bus *Bus, chat Chat, auth Authenticator, limiter ratelimit.Limiter, cfg HandlerConfig, log *slog.Logger) *Handler {
	checkOrigin := makeCheckOrigin(cfg.AllowedOrigins)
	return &Handler{
		hub:     hub,
		bus:     bus,
		chat:    chat,
		auth:    auth,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			CheckOrigin:  checkOrigin,
			Subprotocols: []string{"bearer"},
		},
		checkOrigin:   checkOrigin,
		typingTimeout: cfg.TypingTimeout,
		log:           log.With("component", "ws"),
	}
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimRight(strings.TrimSpace(strings.ToLower(origin)), "/")
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}
	if _, wildcard := allowed["*"]; wildcard {
		return func(r *http.Request) bool {
			return true
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

// extractToken reads the bearer token from the Authorization header, the
// "bearer, <token>" subprotocol pair, or the token query parameter.
func extractToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token
		}
	}

	if protocolHeader := r.Header.Get("Sec-WebSocket-Protocol"); protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1]
		}
	}

	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	identity, err := h.auth.Authenticate(extractToken(r))
	if err != nil {
		http.Error(w, domain.AsError(err).Message, http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", "error", err)
		return
	}

	c := newClient(conn, identity, h.log)
	h.hub.Register(c)
	h.wg.Add(1)
	defer h.wg.Done()

	// sends in flight when the socket drops still run to completion
	ctx := context.WithoutCancel(r.Context())
	defer func() {
		h.bus.Disconnect(ctx, c)
		c.Close()
		c.log.Info("client disconnected")
	}()

	go c.writePump()
	c.log.Info("client connected")
	c.emit(EventReady, nil, readyData{
		ConnectionID:    c.id,
		UserID:          identity.ID,
		TypingTimeoutMs: h.typingTimeout.Milliseconds(),
	})

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read failed", "error", err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.emitError(nil, domain.Validation("Malformed frame"))
			continue
		}
		h.dispatch(ctx, c, f)
	}
}

func (h *Handler) dispatch(ctx context.Context, c *Client, f Frame) {
	event := canonicalEvent(f.Event)

	if event == EventSend {
		if d := h.limiter.Admit(ctx, c.identity.ID); !d.Allowed {
			err := domain.RateLimitedError(d.RetryAfterSeconds)
			c.log.Info("send rate limited", "retry_after", d.RetryAfterSeconds)
			c.emit(EventAck, f.Ack, ackData{Success: false, Error: err.Message})
			c.emitError(f.Ack, err)
			return
		}
	}

	event, cmd, err := DecodeCommand(f)
	if err != nil {
		if event == EventSend {
			c.emit(EventAck, f.Ack, ackData{Success: false, Error: domain.AsError(err).Message})
			return
		}
		c.emitError(f.Ack, err)
		return
	}

	switch event {
	case EventSend:
		h.handleSend(ctx, c, f.Ack, cmd.(*SendCommand))
	case EventRead:
		in := cmd.(*ReadCommand)
		if err := h.chat.MarkAsRead(ctx, in.ConversationID, c.identity.ID, in.MessageIDs); err != nil {
			h.report(c, f.Ack, "read", err)
		}
	case EventJoin:
		in := cmd.(*RoomCommand)
		if err := h.bus.Join(ctx, c, in.ConversationID); err != nil {
			h.report(c, f.Ack, "join", err)
		}
	case EventLeave:
		h.bus.Leave(ctx, c, cmd.(*RoomCommand).ConversationID)
	case EventTypingStart, EventTypingStop:
		in := cmd.(*RoomCommand)
		if err := h.bus.Typing(ctx, c, in.ConversationID, event == EventTypingStart); err != nil {
			h.report(c, f.Ack, event, err)
		}
	}
}

func (h *Handler) handleSend(ctx context.Context, c *Client, ack json.RawMessage, in *SendCommand) {
	msg, err := h.chat.SendMessage(ctx, service.SendMessageInput{
		ConversationID:  in.ConversationID,
		SenderID:        c.identity.ID,
		Content:         in.Content,
		Type:            in.Type,
		ClientMessageID: in.ClientMessageID,
	})
	if err != nil {
		de := domain.AsError(err)
		if de.Status() >= http.StatusInternalServerError {
			c.log.Error("send failed", "conversation_id", in.ConversationID, "error", err)
		}
		c.emit(EventAck, ack, ackData{Success: false, Error: de.Message})
		return
	}
	c.emit(EventAck, ack, ackData{Success: true, MessageID: msg.ID})
}

func (h *Handler) report(c *Client, ack json.RawMessage, op string, err error) {
	if domain.HTTPStatus(err) >= http.StatusInternalServerError {
		c.log.Error(op+" failed", "error", err)
	}
	c.emitError(ack, err)
}

// CloseAll disconnects every client and waits for their handlers to return.
func (h *Handler) CloseAll(ctx context.Context) error {
	for _, c := range h.hub.Clients() {
		c.Close()
	}
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
