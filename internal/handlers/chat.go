package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pliu/nwitter/internal/chat"
	"go.uber.org/zap"
)

type ChatHandler struct {
	Chats *chat.Service
	Unread *chat.Evaluator
	Log    *zap.Logger
}

type startChatRequest struct {
	UserID string `json:"user_id"`
}

func (h *ChatHandler) StartChat(w http.ResponseWriter, r *http.Request) {
	var req startChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	room, err := h.Chats.StartChat(r.Context(), identity(r).UserID, req.UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *ChatHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.Chats.Conversations(r.Context(), identity(r).UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Chats.Messages(r.Context(), identity(r).UserID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	body, up, f, err := postInput(w, r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	defer closeQuietly(f)
	msg, err := h.Chats.SendMessage(r.Context(), identity(r).UserID, mux.Vars(r)["id"], body, up)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type markReadResponse struct {
	Marked   int      `json:"marked"`
	Unmarked []string `json:"unmarked,omitempty"`
}

// MarkRead succeeds with a partial result when some messages could not be
// marked; the client may retry.
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.Chats.MarkRead(r.Context(), identity(r).UserID, mux.Vars(r)["id"])
	var warn *chat.MarkWarning
	if errors.As(err, &warn) {
		writeJSON(w, http.StatusOK, markReadResponse{Marked: n, Unmarked: warn.Unmarked})
		return
	}
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{Marked: n})
}

func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.Chats.DeleteMessage(r.Context(), identity(r).UserID, mux.Vars(r)["id"]); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	unread, err := h.Unread.Evaluate(r.Context(), identity(r).UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, chat.Status{State: chat.Settled, HasUnread: unread})
}
