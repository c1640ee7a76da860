package httpserver

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"hostchat/internal/domain"
)

// parsePageOptions reads limit, cursor and direction. Limits above the
// maximum are clamped; non-numeric or non-positive limits are rejected.
func parsePageOptions(q url.Values) (domain.PageOptions, error) {
	opts := domain.PageOptions{Limit: domain.DefaultPageSize, Cursor: q.Get("cursor"), Direction: domain.Before}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return opts, domain.Validation("limit must be a positive integer")
		}
		opts.Limit = min(n, domain.MaxPageSize)
	}

	switch dir := domain.Direction(q.Get("direction")); dir {
	case "":
	case domain.Before, domain.After:
		opts.Direction = dir
	default:
		return opts, domain.Validation("direction must be one of [before after]")
	}
	return opts, nil
}

// @Summary      List messages
// @Description  Cursor-paginated message history of a conversation
// @Tags         messages
// @Security     BearerAuth
// @Produce      json
// @Param        conversationID  path   string  true   "Conversation ID"
// @Param        limit           query  int     false  "Page size (default 50, max 100)"
// @Param        cursor          query  string  false  "Message ID to page from"
// @Param        direction       query  string  false  "before or after"  Enums(before, after)
// @Success      200  {object}  envelope{data=domain.Page}
// @Failure      400  {object}  envelope
// @Failure      403  {object}  envelope
// @Failure      404  {object}  envelope
// @Router       /api/chat/conversations/{conversationID}/messages [get]
func handleListMessages(chat Chat, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CurrentIdentity(r)
		if !ok {
			writeError(w, r, log, domain.Unauthorized(""))
			return
		}
		opts, err := parsePageOptions(r.URL.Query())
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		page, err := chat.GetMessages(r.Context(), chi.URLParam(r, "conversationID"), caller.ID, opts)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeData(w, http.StatusOK, page)
	}
}
