package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/auth"
	"github.com/pliu/nwitter/internal/blob"
	"github.com/pliu/nwitter/internal/middleware"
	"github.com/pliu/nwitter/internal/models"
	"go.uber.org/zap"
)

const maxJSONBody = 64 << 10

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps an error kind to a response status. Service-level
// Unauthorized means the caller is signed in but does not own the record.
func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Unauthorized:
		return http.StatusForbidden
	case apperr.Invalid:
		return http.StatusBadRequest
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.Transient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	writeErrorStatus(w, log, statusOf(err), err)
}

func writeErrorStatus(w http.ResponseWriter, log *zap.Logger, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: msg, Code: apperr.KindOf(err).String()})
}

// decodeJSON strictly decodes one JSON value from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.E(apperr.Invalid, "handlers.decodeJSON", err)
	}
	if dec.More() {
		return apperr.Errorf(apperr.Invalid, "handlers.decodeJSON", "trailing data after JSON body")
	}
	return nil
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// parseForm reads a multipart body bounded by the attachment size.
func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, models.MaxAttachmentSize+maxJSONBody)
	if err := r.ParseMultipartForm(models.MaxAttachmentSize + maxJSONBody); err != nil {
		return apperr.E(apperr.Invalid, "handlers.parseForm", err)
	}
	return nil
}

// formUpload returns the named file of a parsed multipart form, nil when
// absent. The caller closes the returned file.
func formUpload(r *http.Request, field string) (*blob.Upload, io.Closer, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, apperr.E(apperr.Invalid, "handlers.formUpload", err)
	}
	return uploadOf(f, hdr), f, nil
}

func uploadOf(f multipart.File, hdr *multipart.FileHeader) *blob.Upload {
	return &blob.Upload{Body: f, Size: hdr.Size, ContentType: hdr.Header.Get("Content-Type")}
}

func closeQuietly(c io.Closer) {
	if c != nil {
		c.Close()
	}
}

// identity returns the caller set by the auth middleware.
func identity(r *http.Request) auth.Identity {
	id, _ := middleware.IdentityFrom(r.Context())
	return id
}
