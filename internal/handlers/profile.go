package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/models"
	"github.com/pliu/nwitter/internal/profile"
	"github.com/pliu/nwitter/internal/social"
	"go.uber.org/zap"
)

const defaultSearchLimit = 20

type ProfileHandler struct {
	Profiles *profile.Service
	Social   *social.Service
	Log      *zap.Logger
}

type me struct {
	models.Profile
	Email string `json:"email"`
}

func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	p, err := h.Profiles.Get(r.Context(), id.UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, me{Profile: p, Email: id.Email})
}

func (h *ProfileHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	p, err := h.Profiles.UpdateDisplayName(r.Context(), identity(r).UserID, req.DisplayName)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProfileHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		writeError(w, h.Log, err)
		return
	}
	up, f, err := formUpload(r, "avatar")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	defer closeQuietly(f)
	if up == nil {
		writeError(w, h.Log, apperr.Errorf(apperr.Invalid, "handlers.UploadAvatar", "missing avatar file"))
		return
	}
	p, err := h.Profiles.UploadAvatar(r.Context(), identity(r).UserID, up)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProfileHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	limit := defaultSearchLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, h.Log, apperr.Errorf(apperr.Invalid, "handlers.SearchUsers", "bad limit %q", s))
			return
		}
		limit = n
	}
	users, err := h.Profiles.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *ProfileHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	p, err := h.Profiles.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProfileHandler) UserPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.Social.UserPosts(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}
