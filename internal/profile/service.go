// Package profile serves public user profiles and avatars.
package profile

import (
	"context"
	"strings"

	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/blob"
	"github.com/pliu/nwitter/internal/cache"
	"github.com/pliu/nwitter/internal/models"
	"github.com/pliu/nwitter/internal/store"
	"go.uber.org/zap"
)

const MaxDisplayNameLength = 50

type Service struct {
	store         store.Store
	blobs         blob.Store
	cache         *cache.ProfileCache
	defaultAvatar string
	log           *zap.Logger
}

// NewService builds the profile service. profiles may be nil.
func NewService(st store.Store, blobs blob.Store, profiles *cache.ProfileCache, defaultAvatar string, log *zap.Logger) *Service {
	return &Service{store: st, blobs: blobs, cache: profiles, defaultAvatar: defaultAvatar, log: log}
}

// Get returns the user's public profile. A user that does not exist is
// NotFound.
func (s *Service) Get(ctx context.Context, userID string) (models.Profile, error) {
	if p, ok := s.cache.Get(ctx, userID); ok {
		return p, nil
	}
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return models.Profile{}, err
	}
	p, err := s.profile(ctx, u)
	if err != nil {
		return models.Profile{}, err
	}
	s.cache.Set(ctx, p)
	return p, nil
}

func (s *Service) profile(ctx context.Context, u *models.User) (models.Profile, error) {
	avatar, err := s.avatarURL(ctx, u)
	if err != nil {
		return models.Profile{}, err
	}
	return models.Profile{ID: u.ID, DisplayName: u.NameOrAnonymous(), AvatarURL: avatar}, nil
}

// AvatarURL resolves the user's avatar, or the default avatar when none
// was uploaded.
func (s *Service) AvatarURL(ctx context.Context, userID string) (string, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.avatarURL(ctx, u)
}

func (s *Service) avatarURL(ctx context.Context, u *models.User) (string, error) {
	path := u.AvatarPath
	if path == "" {
		path = blob.AvatarPath(u.ID)
	}
	url, err := s.blobs.URL(ctx, path)
	if apperr.IsNotFound(err) {
		return s.defaultAvatar, nil
	}
	return url, err
}

func (s *Service) UpdateDisplayName(ctx context.Context, actor, name string) (models.Profile, error) {
	const op = "profile.UpdateDisplayName"
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > MaxDisplayNameLength {
		return models.Profile{}, apperr.Errorf(apperr.Invalid, op, "display name must be 1 to %d characters", MaxDisplayNameLength)
	}
	u, err := s.store.GetUserByID(ctx, actor)
	if err != nil {
		return models.Profile{}, err
	}
	u.DisplayName = name
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return models.Profile{}, err
	}
	s.cache.Invalidate(ctx, actor)
	return s.profile(ctx, u)
}

func (s *Service) UploadAvatar(ctx context.Context, actor string, up *blob.Upload) (models.Profile, error) {
	if err := blob.CheckImage(up.Size, up.ContentType); err != nil {
		return models.Profile{}, err
	}
	u, err := s.store.GetUserByID(ctx, actor)
	if err != nil {
		return models.Profile{}, err
	}
	path := blob.AvatarPath(actor)
	if err := s.blobs.Put(ctx, path, up.Body, up.Size, up.ContentType); err != nil {
		return models.Profile{}, err
	}
	if u.AvatarPath != path {
		u.AvatarPath = path
		if err := s.store.UpdateUser(ctx, u); err != nil {
			return models.Profile{}, err
		}
	}
	s.cache.Invalidate(ctx, actor)
	return s.profile(ctx, u)
}

// Search finds users by display name.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]models.Profile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.Profile{}, nil
	}
	users, err := s.store.SearchUsers(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Profile, 0, len(users))
	for i := range users {
		p, err := s.profile(ctx, &users[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
