// Package blob stores attachment and avatar files by path.
package blob

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/models"
)

// Store keeps opaque files under slash-separated paths. URL and Delete
// return an apperr NotFound error when nothing is stored at path.
type Store interface {
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	URL(ctx context.Context, path string) (string, error)
	Delete(ctx context.Context, path string) error
}

// Upload is a file received from a client. Size must be known up front.
type Upload struct {
	Body        io.Reader
	Size        int64
	ContentType string
}

func MessagePath(messageID string) string     { return "messages/" + messageID }
func PostPath(authorID, postID string) string { return "tweets/" + authorID + "/" + postID }
func AvatarPath(userID string) string         { return "avatars/" + userID }

// Clean validates a blob path and strips leading slashes. Paths that try to
// escape their prefix are rejected.
func Clean(p string) (string, error) {
	const op = "blob.Clean"
	p = strings.TrimSpace(p)
	if strings.Contains(p, "..") || strings.ContainsRune(p, '\\') {
		return "", apperr.Errorf(apperr.Invalid, op, "invalid path %q", p)
	}
	p = strings.TrimLeft(p, "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if p == "" {
		return "", apperr.Errorf(apperr.Invalid, op, "empty path")
	}
	if _, err := url.Parse("https://example.com/" + p); err != nil {
		return "", apperr.E(apperr.Invalid, op, err)
	}
	return p, nil
}

// CheckImage validates an uploaded attachment before it is stored.
func CheckImage(size int64, contentType string) error {
	const op = "blob.CheckImage"
	switch {
	case size <= 0:
		return apperr.Errorf(apperr.Invalid, op, "empty or unsized upload")
	case size > models.MaxAttachmentSize:
		return apperr.Errorf(apperr.Invalid, op, "file is larger than %d bytes", models.MaxAttachmentSize)
	case !strings.HasPrefix(contentType, "image/"):
		return apperr.Errorf(apperr.Invalid, op, "unsupported content type %q", contentType)
	}
	return nil
}
