package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"bazaar.app/internal/audit"
	"bazaar.app/internal/conversation"
	"bazaar.app/internal/messaging"
)

type messagePage struct {
	Items      []conversation.Message `json:"items"`
	NextBefore int64                  `json:"nextBefore,omitempty"`
}

func (a *API) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	list, err := a.gateway.ListMine(r.Context())
	if err != nil {
		handleConversationError(w, r, err)
		return
	}
	if list == nil {
		list = []conversation.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

// handleConversationResource routes /v1/conversations/{id}[/messages[/latest]].
func (a *API) handleConversationResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/conversations/"), "/")
	parts := strings.Split(path, "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusNotFound, "conversation not found")
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getConversation(w, r, id)
		case http.MethodDelete:
			a.deleteConversation(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "messages":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listMessages(w, r, id)
	case len(parts) == 3 && parts[1] == "messages" && parts[2] == "latest":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.latestMessage(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getConversation(w http.ResponseWriter, r *http.Request, id int64) {
	c, err := a.gateway.GetConversation(r.Context(), id)
	if err != nil {
		handleConversationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) deleteConversation(w http.ResponseWriter, r *http.Request, id int64) {
	if err := a.gateway.DeleteConversation(r.Context(), id); err != nil {
		handleConversationError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "conversation.delete", map[string]any{"conversation_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request, id int64) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), conversation.DefaultPageSize, 1, conversation.MaxPageSize)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var before int64
	if raw := strings.TrimSpace(r.URL.Query().Get("before")); raw != "" {
		before, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || before < 0 {
			writeError(w, r, http.StatusBadRequest, "before must be a non-negative integer")
			return
		}
	}

	items, err := a.gateway.History(r.Context(), id, limit, before)
	if err != nil {
		handleConversationError(w, r, err)
		return
	}
	page := messagePage{Items: items}
	if page.Items == nil {
		page.Items = []conversation.Message{}
	}
	if len(items) == limit {
		page.NextBefore = items[len(items)-1].ID
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) latestMessage(w http.ResponseWriter, r *http.Request, id int64) {
	m, err := a.gateway.Latest(r.Context(), id)
	if err != nil {
		handleConversationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

func handleConversationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, conversation.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, messaging.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, messaging.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, conversation.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "conversation not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
