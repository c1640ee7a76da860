package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hostchat/internal/domain"
	"hostchat/internal/service"
)

type checkConversationResponse struct {
	Exists         bool    `json:"exists"`
	ConversationID *string `json:"conversationId"`
}

// @Summary      List conversations
// @Description  Conversations the caller participates in, most recently updated first
// @Tags         conversations
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  envelope{data=[]domain.Conversation}
// @Failure      401  {object}  envelope
// @Router       /api/chat/conversations [get]
func handleListConversations(chat Chat, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CurrentIdentity(r)
		if !ok {
			writeError(w, r, log, domain.Unauthorized(""))
			return
		}
		convs, err := chat.GetConversations(r.Context(), caller.ID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeData(w, http.StatusOK, convs)
	}
}

// @Summary      Check conversation
// @Description  Report whether a conversation exists for a property and host/guest pair
// @Tags         conversations
// @Security     BearerAuth
// @Produce      json
// @Param        propertyId  query  string  true  "Property ID"
// @Param        hostId      query  string  true  "Host ID"
// @Param        guestId     query  string  true  "Guest ID"
// @Success      200  {object}  envelope{data=checkConversationResponse}
// @Failure      400  {object}  envelope
// @Failure      403  {object}  envelope
// @Router       /api/chat/conversations/check [get]
func handleCheckConversation(chat Chat, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CurrentIdentity(r)
		if !ok {
			writeError(w, r, log, domain.Unauthorized(""))
			return
		}
		q := r.URL.Query()
		propertyID, hostID, guestID := q.Get("propertyId"), q.Get("hostId"), q.Get("guestId")
		if propertyID == "" || hostID == "" || guestID == "" {
			writeError(w, r, log, domain.Validation("Property ID, Host ID, and Guest ID are required"))
			return
		}

		conv, err := chat.CheckConversationExists(r.Context(), caller.ID, propertyID, hostID, guestID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		resp := checkConversationResponse{Exists: conv != nil}
		if conv != nil {
			resp.ConversationID = &conv.ID
		}
		writeData(w, http.StatusOK, resp)
	}
}

// @Summary      Get or create conversation
// @Description  Return the conversation for the property and pair, creating it on first contact
// @Tags         conversations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        input  body  service.CreateConversationInput  true  "Conversation input"
// @Success      200  {object}  envelope{data=domain.Conversation}
// @Failure      400  {object}  envelope
// @Failure      403  {object}  envelope
// @Failure      413  {object}  envelope
// @Failure      415  {object}  envelope
// @Router       /api/chat/conversations [post]
func handleCreateConversation(chat Chat, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CurrentIdentity(r)
		if !ok {
			writeError(w, r, log, domain.Unauthorized(""))
			return
		}
		var req service.CreateConversationInput
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}

		conv, err := chat.GetOrCreateConversation(r.Context(), caller.ID, req)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeData(w, http.StatusOK, conv)
	}
}

// @Summary      Get conversation
// @Tags         conversations
// @Security     BearerAuth
// @Produce      json
// @Param        conversationID  path  string  true  "Conversation ID"
// @Success      200  {object}  envelope{data=domain.Conversation}
// @Failure      403  {object}  envelope
// @Failure      404  {object}  envelope
// @Router       /api/chat/conversations/{conversationID} [get]
func handleGetConversation(chat Chat, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CurrentIdentity(r)
		if !ok {
			writeError(w, r, log, domain.Unauthorized(""))
			return
		}
		conv, err := chat.GetConversation(r.Context(), chi.URLParam(r, "conversationID"), caller.ID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeData(w, http.StatusOK, conv)
	}
}
