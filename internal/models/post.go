package models

import (
	"strings"
	"time"
)

type Post struct {
	ID                string    `json:"id"`
	AuthorID          string    `json:"author_id"`
	AuthorDisplayName string    `json:"author_display_name"`
	Body              string    `json:"body"`
	AttachmentPath    string    `json:"-"`
	AttachmentURL     string    `json:"attachment_url,omitempty"`
	QuotedPostID      string    `json:"quoted_post_id,omitempty"`
	QuotedPost        *Post     `json:"quoted_post,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (p *Post) Validate() error {
	switch {
	case p.ID == "":
		return invalid("post", "missing id")
	case p.AuthorID == "":
		return invalid("post", "missing author id")
	case strings.TrimSpace(p.Body) == "":
		return invalid("post", "empty body")
	case p.QuotedPostID == p.ID:
		return invalid("post", "cannot quote itself")
	}
	return nil
}

type EngagementKind string

const (
	Like     EngagementKind = "like"
	Bookmark EngagementKind = "bookmark"
	Repost   EngagementKind = "repost"
)

func (k EngagementKind) Valid() bool {
	switch k {
	case Like, Bookmark, Repost:
		return true
	}
	return false
}

// Engagement is identified by (Kind, UserID, PostID); its existence is the
// signal.
type Engagement struct {
	Kind      EngagementKind `json:"kind"`
	UserID    string         `json:"user_id"`
	PostID    string         `json:"post_id"`
	CreatedAt time.Time      `json:"created_at"`
}

// EngagementSummary is a viewer's state on one post.
type EngagementSummary struct {
	PostID      string `json:"post_id"`
	Liked       bool   `json:"liked"`
	Bookmarked  bool   `json:"bookmarked"`
	Reposted    bool   `json:"reposted"`
	LikeCount   int    `json:"like_count"`
	RepostCount int    `json:"repost_count"`
}
