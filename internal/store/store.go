package store

import (
	"context"
	"time"

	"github.com/pliu/nwitter/internal/models"
)

// PostQuery selects posts newest first. Zero values mean "no filter".
type PostQuery struct {
	AuthorID string
	Limit    int
}

type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error)

	// Password reset tokens
	CreatePasswordReset(ctx context.Context, token, userID string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, token string, now time.Time) (string, error)

	// Sessions
	CreateSession(ctx context.Context, id, userID string, expiresAt time.Time) error
	SessionActive(ctx context.Context, id string, now time.Time) (bool, error)
	RevokeSession(ctx context.Context, id string) error

	// Post operations
	CreatePost(ctx context.Context, post *models.Post) error
	GetPost(ctx context.Context, id string) (*models.Post, error)
	UpdatePost(ctx context.Context, post *models.Post) error
	DeletePost(ctx context.Context, id string) error
	ListPosts(ctx context.Context, q PostQuery) ([]models.Post, error)

	// Engagement operations
	HasEngagement(ctx context.Context, kind models.EngagementKind, userID, postID string) (bool, error)
	PutEngagement(ctx context.Context, e *models.Engagement) error
	DeleteEngagement(ctx context.Context, kind models.EngagementKind, userID, postID string) error
	CountEngagements(ctx context.Context, kind models.EngagementKind, postID string) (int, error)
	ListEngagementsByUser(ctx context.Context, kind models.EngagementKind, userID string) ([]models.Engagement, error)

	// Chat operations
	CreateRoom(ctx context.Context, room *models.ChatRoom) error
	GetRoom(ctx context.Context, id string) (*models.ChatRoom, error)
	ListRoomsForUser(ctx context.Context, userID string) ([]models.ChatRoom, error)
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	ListMessages(ctx context.Context, roomID string) ([]models.Message, error)
	LatestMessage(ctx context.Context, roomID string) (*models.Message, error)
	ListMessagesForUser(ctx context.Context, userID string) ([]models.Message, error)
	AddReader(ctx context.Context, messageID, userID string) (bool, error)
}
