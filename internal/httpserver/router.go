package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"hostchat/internal/domain"
	"hostchat/internal/service"
)

const maxBodyBytes = 64 << 10

// Chat is the part of the chat service exposed over HTTP.
type Chat interface {
	GetConversations(ctx context.Context, userID string) ([]*domain.Conversation, error)
	GetConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error)
	GetOrCreateConversation(ctx context.Context, callerID string, in service.CreateConversationInput) (*domain.Conversation, error)
	CheckConversationExists(ctx context.Context, callerID, propertyID, hostID, guestID string) (*domain.Conversation, error)
	GetMessages(ctx context.Context, conversationID, userID string, opts domain.PageOptions) (*domain.Page, error)
}

type Deps struct {
	CORSOrigins []string
	Auth        Authenticator
	Chat        Chat
	WS          http.Handler
	Log         *slog.Logger
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	log := d.Log.With("component", "http")
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": time.Now().UTC()})
	})

	r.Route("/api/chat", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(AuthMiddleware(d.Auth))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", handleListConversations(d.Chat, log))
			r.Get("/check", handleCheckConversation(d.Chat, log))
			r.Post("/", handleCreateConversation(d.Chat, log))
			r.Get("/{conversationID}", handleGetConversation(d.Chat, log))
			r.Get("/{conversationID}/messages", handleListMessages(d.Chat, log))
		})
	})

	if d.WS != nil {
		r.Get("/ws", d.WS.ServeHTTP)
	}

	return r
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError maps err onto its status. Internal details never reach the body.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	de := domain.AsError(err)
	status := de.Status()
	msg := de.Message
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		if de.Code == domain.CodeInternal {
			msg = "Internal server error"
		}
	}
	if de.Code == domain.CodeRateLimited {
		if v, ok := de.Details["retryAfter"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(v))
		}
	}
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || ct != "application/json" {
		return &domain.Error{Code: domain.CodeInvalidFileType, Message: "Content-Type must be application/json"}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return &domain.Error{Code: domain.CodeFileTooLarge, Message: "Request body too large"}
		case errors.Is(err, io.EOF):
			return domain.Validation("Request body is required")
		default:
			return domain.Validation("Invalid JSON body")
		}
	}
	return nil
}
