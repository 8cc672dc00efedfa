package sqlstore

import (
	"context"
	"database/sql"

	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/feed"
	"github.com/pliu/nwitter/internal/models"
	"github.com/pliu/nwitter/internal/store"
)

const postColumns = "id, author_id, author_name, body, attachment_path, attachment_url, quoted_post_id, created_at, updated_at"

func scanPost(row interface{ Scan(...any) error }) (*models.Post, error) {
	var p models.Post
	var created, updated int64
	err := row.Scan(&p.ID, &p.AuthorID, &p.AuthorDisplayName, &p.Body, &p.AttachmentPath, &p.AttachmentURL, &p.QuotedPostID, &created, &updated)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	if err := p.Validate(); err != nil {
		return nil, apperr.E(apperr.Invalid, "store.scanPost", err)
	}
	return &p, nil
}

func (s *SQLStore) CreatePost(ctx context.Context, p *models.Post) error {
	if err := p.Validate(); err != nil {
		return err
	}
	query := s.rebind("INSERT INTO posts (" + postColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, p.ID, p.AuthorID, p.AuthorDisplayName, p.Body, p.AttachmentPath, p.AttachmentURL, p.QuotedPostID, millis(p.CreatedAt), millis(p.UpdatedAt))
	if err != nil {
		return classify("store.CreatePost", err)
	}
	s.publish(feed.PostsTopic, feed.PostTopic(p.ID))
	return nil
}

func (s *SQLStore) GetPost(ctx context.Context, id string) (*models.Post, error) {
	query := s.rebind("SELECT " + postColumns + " FROM posts WHERE id = ?")
	p, err := scanPost(s.db.QueryRowContext(ctx, query, id))
	return p, classify("store.GetPost", err)
}

// UpdatePost rewrites the mutable fields: body and attachment.
func (s *SQLStore) UpdatePost(ctx context.Context, p *models.Post) error {
	if err := p.Validate(); err != nil {
		return err
	}
	query := s.rebind("UPDATE posts SET body = ?, attachment_path = ?, attachment_url = ?, updated_at = ? WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, p.Body, p.AttachmentPath, p.AttachmentURL, millis(p.UpdatedAt), p.ID)
	if err := requireRow("store.UpdatePost", res, err); err != nil {
		return err
	}
	s.publish(feed.PostsTopic, feed.PostTopic(p.ID))
	return nil
}

// DeletePost removes the post and every engagement record pointing at it.
func (s *SQLStore) DeletePost(ctx context.Context, id string) error {
	const op = "store.DeletePost"
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM engagements WHERE post_id = ?"), id); err != nil {
			return classify(op, err)
		}
		res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM posts WHERE id = ?"), id)
		return requireRow(op, res, err)
	})
	if err != nil {
		return err
	}
	s.publish(feed.PostsTopic, feed.PostTopic(id))
	return nil
}

func (s *SQLStore) ListPosts(ctx context.Context, q store.PostQuery) ([]models.Post, error) {
	const op = "store.ListPosts"
	query := "SELECT " + postColumns + " FROM posts"
	var args []any
	if q.AuthorID != "" {
		query += " WHERE author_id = ?"
		args = append(args, q.AuthorID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		posts = append(posts, *p)
	}
	return posts, classify(op, rows.Err())
}

func (s *SQLStore) HasEngagement(ctx context.Context, kind models.EngagementKind, userID, postID string) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM engagements WHERE kind = ? AND user_id = ? AND post_id = ?)")
	err := s.db.QueryRowContext(ctx, query, string(kind), userID, postID).Scan(&exists)
	return exists, classify("store.HasEngagement", err)
}

func (s *SQLStore) PutEngagement(ctx context.Context, e *models.Engagement) error {
	if !e.Kind.Valid() {
		return apperr.Errorf(apperr.Invalid, "store.PutEngagement", "unknown engagement kind %q", e.Kind)
	}
	query := s.rebind("INSERT INTO engagements (kind, user_id, post_id, created_at) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING")
	_, err := s.db.ExecContext(ctx, query, string(e.Kind), e.UserID, e.PostID, millis(e.CreatedAt))
	if err != nil {
		return classify("store.PutEngagement", err)
	}
	s.publish(feed.PostTopic(e.PostID))
	return nil
}

func (s *SQLStore) DeleteEngagement(ctx context.Context, kind models.EngagementKind, userID, postID string) error {
	query := s.rebind("DELETE FROM engagements WHERE kind = ? AND user_id = ? AND post_id = ?")
	res, err := s.db.ExecContext(ctx, query, string(kind), userID, postID)
	if err := requireRow("store.DeleteEngagement", res, err); err != nil {
		return err
	}
	s.publish(feed.PostTopic(postID))
	return nil
}

func (s *SQLStore) CountEngagements(ctx context.Context, kind models.EngagementKind, postID string) (int, error) {
	var n int
	query := s.rebind("SELECT COUNT(*) FROM engagements WHERE kind = ? AND post_id = ?")
	err := s.db.QueryRowContext(ctx, query, string(kind), postID).Scan(&n)
	return n, classify("store.CountEngagements", err)
}

// ListEngagementsByUser returns the user's records of one kind, newest first.
func (s *SQLStore) ListEngagementsByUser(ctx context.Context, kind models.EngagementKind, userID string) ([]models.Engagement, error) {
	const op = "store.ListEngagementsByUser"
	query := s.rebind("SELECT kind, user_id, post_id, created_at FROM engagements WHERE kind = ? AND user_id = ? ORDER BY created_at DESC, post_id DESC")
	rows, err := s.db.QueryContext(ctx, query, string(kind), userID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []models.Engagement
	for rows.Next() {
		var e models.Engagement
		var k string
		var created int64
		if err := rows.Scan(&k, &e.UserID, &e.PostID, &created); err != nil {
			return nil, classify(op, err)
		}
		e.Kind = models.EngagementKind(k)
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, classify(op, rows.Err())
}
