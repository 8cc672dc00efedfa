package social

import (
	"context"

	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/models"
)

func (s *Service) ToggleLike(ctx context.Context, actor, postID string) (bool, error) {
	return s.toggle(ctx, models.Like, actor, postID)
}

func (s *Service) ToggleBookmark(ctx context.Context, actor, postID string) (bool, error) {
	return s.toggle(ctx, models.Bookmark, actor, postID)
}

func (s *Service) ToggleRepost(ctx context.Context, actor, postID string) (bool, error) {
	return s.toggle(ctx, models.Repost, actor, postID)
}

// toggle deletes the actor's record if it exists and creates it otherwise.
// It reports whether the record exists afterwards.
func (s *Service) toggle(ctx context.Context, kind models.EngagementKind, actor, postID string) (bool, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return false, err
	}
	exists, err := s.store.HasEngagement(ctx, kind, actor, postID)
	if err != nil {
		return false, err
	}
	if exists {
		err := s.store.DeleteEngagement(ctx, kind, actor, postID)
		if err != nil && !apperr.IsNotFound(err) {
			return false, err
		}
		return false, nil
	}
	e := &models.Engagement{Kind: kind, UserID: actor, PostID: postID, CreatedAt: models.Timestamp(s.now())}
	if err := s.store.PutEngagement(ctx, e); err != nil {
		return false, err
	}
	return true, nil
}

// Engagement reports viewer's engagements with a post plus its counters.
func (s *Service) Engagement(ctx context.Context, viewer, postID string) (models.EngagementSummary, error) {
	sum := models.EngagementSummary{PostID: postID}
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return sum, err
	}
	for _, f := range []struct {
		kind models.EngagementKind
		dst  *bool
	}{
		{models.Like, &sum.Liked},
		{models.Bookmark, &sum.Bookmarked},
		{models.Repost, &sum.Reposted},
	} {
		ok, err := s.store.HasEngagement(ctx, f.kind, viewer, postID)
		if err != nil {
			return sum, err
		}
		*f.dst = ok
	}

	var err error
	if sum.LikeCount, err = s.store.CountEngagements(ctx, models.Like, postID); err != nil {
		return sum, err
	}
	if sum.RepostCount, err = s.store.CountEngagements(ctx, models.Repost, postID); err != nil {
		return sum, err
	}
	return sum, nil
}

// Bookmarks returns the viewer's bookmarked posts, most recently
// bookmarked first. Bookmarks of deleted posts are skipped.
func (s *Service) Bookmarks(ctx context.Context, viewer string) ([]models.Post, error) {
	marks, err := s.store.ListEngagementsByUser(ctx, models.Bookmark, viewer)
	if err != nil {
		return nil, err
	}
	posts := make([]models.Post, 0, len(marks))
	for _, m := range marks {
		p, err := s.store.GetPost(ctx, m.PostID)
		if apperr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	if err := s.resolve(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}
