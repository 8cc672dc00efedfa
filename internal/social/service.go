// Package social implements posts, quotes and engagements.
package social

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/blob"
	"github.com/pliu/nwitter/internal/models"
	"github.com/pliu/nwitter/internal/store"
	"go.uber.org/zap"
)

const (
	TimelineLimit  = 25
	UserPostsLimit = 10
	MaxPostLength  = 280
)

type Service struct {
	store store.Store
	blobs blob.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewService(st store.Store, blobs blob.Store, log *zap.Logger) *Service {
	return &Service{store: st, blobs: blobs, log: log, now: time.Now}
}

func checkBody(op, body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", apperr.Errorf(apperr.Invalid, op, "post body is empty")
	}
	if n := len([]rune(body)); n > MaxPostLength {
		return "", apperr.Errorf(apperr.Invalid, op, "post is %d characters, limit is %d", n, MaxPostLength)
	}
	return body, nil
}

func (s *Service) CreatePost(ctx context.Context, actor, body string, up *blob.Upload) (*models.Post, error) {
	return s.create(ctx, "social.CreatePost", actor, body, "", up)
}

// QuotePost publishes a new post that embeds an existing one.
func (s *Service) QuotePost(ctx context.Context, actor, quotedID, body string, up *blob.Upload) (*models.Post, error) {
	if _, err := s.store.GetPost(ctx, quotedID); err != nil {
		return nil, err
	}
	return s.create(ctx, "social.QuotePost", actor, body, quotedID, up)
}

func (s *Service) create(ctx context.Context, op, actor, body, quotedID string, up *blob.Upload) (*models.Post, error) {
	body, err := checkBody(op, body)
	if err != nil {
		return nil, err
	}
	if up != nil {
		if err := blob.CheckImage(up.Size, up.ContentType); err != nil {
			return nil, err
		}
	}
	author, err := s.store.GetUserByID(ctx, actor)
	if err != nil {
		return nil, err
	}

	now := models.Timestamp(s.now())
	p := &models.Post{
		ID:                uuid.NewString(),
		AuthorID:          actor,
		AuthorDisplayName: author.NameOrAnonymous(),
		Body:              body,
		QuotedPostID:      quotedID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if up != nil {
		if err := s.attach(ctx, p, up); err != nil {
			return nil, err
		}
	}
	if err := s.store.CreatePost(ctx, p); err != nil {
		if p.AttachmentPath != "" {
			s.discardBlob(p.AttachmentPath)
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) attach(ctx context.Context, p *models.Post, up *blob.Upload) error {
	path := blob.PostPath(p.AuthorID, p.ID)
	if err := s.blobs.Put(ctx, path, up.Body, up.Size, up.ContentType); err != nil {
		return err
	}
	u, err := s.blobs.URL(ctx, path)
	if err != nil {
		return err
	}
	p.AttachmentPath, p.AttachmentURL = path, u
	return nil
}

func (s *Service) discardBlob(path string) {
	if err := s.blobs.Delete(context.Background(), path); err != nil && !apperr.IsNotFound(err) {
		s.log.Warn("orphaned blob", zap.String("path", path), zap.Error(err))
	}
}

// PostEdit lists the changes of an edit. Nil fields stay as they are.
type PostEdit struct {
	Body             *string
	Attachment       *blob.Upload
	RemoveAttachment bool
}

// owned loads a post and checks that actor wrote it.
func (s *Service) owned(ctx context.Context, op, actor, postID string) (*models.Post, error) {
	p, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if p.AuthorID != actor {
		return nil, apperr.Errorf(apperr.Unauthorized, op, "post %s belongs to another user", postID)
	}
	return p, nil
}

func (s *Service) EditPost(ctx context.Context, actor, postID string, edit PostEdit) (*models.Post, error) {
	const op = "social.EditPost"
	p, err := s.owned(ctx, op, actor, postID)
	if err != nil {
		return nil, err
	}
	if edit.Body != nil {
		if p.Body, err = checkBody(op, *edit.Body); err != nil {
			return nil, err
		}
	}
	switch {
	case edit.Attachment != nil:
		if err := blob.CheckImage(edit.Attachment.Size, edit.Attachment.ContentType); err != nil {
			return nil, err
		}
		// Same path as before, so the upload replaces the old file.
		if err := s.attach(ctx, p, edit.Attachment); err != nil {
			return nil, err
		}
	case edit.RemoveAttachment && p.AttachmentPath != "":
		if err := s.blobs.Delete(ctx, p.AttachmentPath); err != nil && !apperr.IsNotFound(err) {
			return nil, err
		}
		p.AttachmentPath, p.AttachmentURL = "", ""
	}
	p.UpdatedAt = models.Timestamp(s.now())
	if err := s.store.UpdatePost(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePost removes the post, its engagements and its attachment.
func (s *Service) DeletePost(ctx context.Context, actor, postID string) error {
	p, err := s.owned(ctx, "social.DeletePost", actor, postID)
	if err != nil {
		return err
	}
	if err := s.store.DeletePost(ctx, postID); err != nil {
		return err
	}
	if p.AttachmentPath != "" {
		if err := s.blobs.Delete(ctx, p.AttachmentPath); err != nil && !apperr.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// GetPost returns the post with its quoted post resolved. A quoted post
// that has been deleted resolves to nil.
func (s *Service) GetPost(ctx context.Context, id string) (*models.Post, error) {
	p, err := s.store.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	posts := []models.Post{*p}
	if err := s.resolve(ctx, posts); err != nil {
		return nil, err
	}
	return &posts[0], nil
}

// Timeline returns the newest posts of everyone.
func (s *Service) Timeline(ctx context.Context) ([]models.Post, error) {
	return s.list(ctx, store.PostQuery{Limit: TimelineLimit})
}

// UserPosts returns the newest posts of one author.
func (s *Service) UserPosts(ctx context.Context, authorID string) ([]models.Post, error) {
	if _, err := s.store.GetUserByID(ctx, authorID); err != nil {
		return nil, err
	}
	return s.list(ctx, store.PostQuery{AuthorID: authorID, Limit: UserPostsLimit})
}

func (s *Service) list(ctx context.Context, q store.PostQuery) ([]models.Post, error) {
	posts, err := s.store.ListPosts(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := s.resolve(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// resolve fills in quoted posts and refreshes attachment URLs.
func (s *Service) resolve(ctx context.Context, posts []models.Post) error {
	for i := range posts {
		p := &posts[i]
		s.refreshURL(ctx, p)
		if p.QuotedPostID == "" {
			continue
		}
		q, err := s.store.GetPost(ctx, p.QuotedPostID)
		if apperr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		s.refreshURL(ctx, q)
		p.QuotedPost = q
	}
	return nil
}

func (s *Service) refreshURL(ctx context.Context, p *models.Post) {
	if p.AttachmentPath == "" {
		return
	}
	u, err := s.blobs.URL(ctx, p.AttachmentPath)
	if err != nil {
		if !apperr.IsNotFound(err) {
			s.log.Warn("attachment url", zap.String("post_id", p.ID), zap.Error(err))
		}
		u = ""
	}
	p.AttachmentURL = u
}
