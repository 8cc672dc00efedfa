package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/blob"
	"github.com/pliu/nwitter/internal/social"
	"go.uber.org/zap"
)

type PostHandler struct {
	Social *social.Service
	Log    *zap.Logger
}

// postInput reads a post body and optional attachment from either a JSON
// body or a multipart form.
func postInput(w http.ResponseWriter, r *http.Request) (string, *blob.Upload, io.Closer, error) {
	if !isMultipart(r) {
		var req struct {
			Body string `json:"body"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			return "", nil, nil, err
		}
		return req.Body, nil, nil, nil
	}
	if err := parseForm(w, r); err != nil {
		return "", nil, nil, err
	}
	up, f, err := formUpload(r, "attachment")
	if err != nil {
		return "", nil, nil, err
	}
	return r.FormValue("body"), up, f, nil
}

func (h *PostHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	posts, err := h.Social.Timeline(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	body, up, f, err := postInput(w, r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	defer closeQuietly(f)
	p, err := h.Social.CreatePost(r.Context(), identity(r).UserID, body, up)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PostHandler) QuotePost(w http.ResponseWriter, r *http.Request) {
	body, up, f, err := postInput(w, r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	defer closeQuietly(f)
	p, err := h.Social.QuotePost(r.Context(), identity(r).UserID, mux.Vars(r)["id"], body, up)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.Social.GetPost(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PostHandler) EditPost(w http.ResponseWriter, r *http.Request) {
	var edit social.PostEdit
	if isMultipart(r) {
		if err := parseForm(w, r); err != nil {
			writeError(w, h.Log, err)
			return
		}
		if v, ok := r.MultipartForm.Value["body"]; ok && len(v) > 0 {
			edit.Body = &v[0]
		}
		if s := r.FormValue("remove_attachment"); s != "" {
			rm, err := strconv.ParseBool(s)
			if err != nil {
				writeError(w, h.Log, apperr.E(apperr.Invalid, "handlers.EditPost", err))
				return
			}
			edit.RemoveAttachment = rm
		}
		up, f, err := formUpload(r, "attachment")
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		defer closeQuietly(f)
		edit.Attachment = up
	} else {
		var req struct {
			Body             *string `json:"body"`
			RemoveAttachment bool    `json:"remove_attachment"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, h.Log, err)
			return
		}
		edit.Body, edit.RemoveAttachment = req.Body, req.RemoveAttachment
	}

	p, err := h.Social.EditPost(r.Context(), identity(r).UserID, mux.Vars(r)["id"], edit)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.Social.DeletePost(r.Context(), identity(r).UserID, mux.Vars(r)["id"]); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toggleFunc func(ctx context.Context, actor, postID string) (bool, error)

// respondToggle flips one engagement and reports whether it is now on.
func (h *PostHandler) respondToggle(w http.ResponseWriter, r *http.Request, toggle toggleFunc) {
	active, err := toggle(r.Context(), identity(r).UserID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}

func (h *PostHandler) Like(w http.ResponseWriter, r *http.Request) {
	h.respondToggle(w, r, h.Social.ToggleLike)
}

func (h *PostHandler) Bookmark(w http.ResponseWriter, r *http.Request) {
	h.respondToggle(w, r, h.Social.ToggleBookmark)
}

func (h *PostHandler) Repost(w http.ResponseWriter, r *http.Request) {
	h.respondToggle(w, r, h.Social.ToggleRepost)
}

func (h *PostHandler) Engagement(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Social.Engagement(r.Context(), identity(r).UserID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *PostHandler) Bookmarks(w http.ResponseWriter, r *http.Request) {
	posts, err := h.Social.Bookmarks(r.Context(), identity(r).UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}
