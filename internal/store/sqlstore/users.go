package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/feed"
	"github.com/pliu/nwitter/internal/models"
)

const userColumns = "id, email, display_name, password, avatar_path, created_at"

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var created int64
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Password, &u.AvatarPath, &created); err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	query := s.rebind("INSERT INTO users (" + userColumns + ") VALUES (?, ?, ?, ?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, user.ID, user.Email, user.DisplayName, user.Password, user.AvatarPath, millis(user.CreatedAt))
	if err != nil {
		return classify("store.CreateUser", err)
	}
	s.publish(feed.UserTopic(user.ID))
	return nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE id = ?")
	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	return u, classify("store.GetUserByID", err)
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE email = ?")
	u, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	return u, classify("store.GetUserByEmail", err)
}

func (s *SQLStore) UpdateUser(ctx context.Context, user *models.User) error {
	query := s.rebind("UPDATE users SET email = ?, display_name = ?, password = ?, avatar_path = ? WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, user.Email, user.DisplayName, user.Password, user.AvatarPath, user.ID)
	if err := requireRow("store.UpdateUser", res, err); err != nil {
		return err
	}
	s.publish(feed.UserTopic(user.ID))
	return nil
}

func (s *SQLStore) SearchUsers(ctx context.Context, queryStr string, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 10
	}
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE display_name LIKE ? ORDER BY display_name LIMIT ?")
	rows, err := s.db.QueryContext(ctx, query, "%"+queryStr+"%", limit)
	if err != nil {
		return nil, classify("store.SearchUsers", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, classify("store.SearchUsers", err)
		}
		u.Email = maskEmail(u.Email)
		u.Password = ""
		users = append(users, *u)
	}
	return users, classify("store.SearchUsers", rows.Err())
}

func (s *SQLStore) CreatePasswordReset(ctx context.Context, token, userID string, expiresAt time.Time) error {
	query := s.rebind("INSERT INTO password_resets (token, user_id, expires_at) VALUES (?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, token, userID, millis(expiresAt))
	return classify("store.CreatePasswordReset", err)
}

// ConsumePasswordReset deletes the token and returns its user. Expired
// tokens are deleted too and reported as Unauthorized.
func (s *SQLStore) ConsumePasswordReset(ctx context.Context, token string, now time.Time) (string, error) {
	const op = "store.ConsumePasswordReset"
	var userID string
	var expires int64
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, s.rebind("SELECT user_id, expires_at FROM password_resets WHERE token = ?"), token).Scan(&userID, &expires)
		if err != nil {
			return classify(op, err)
		}
		_, err = tx.ExecContext(ctx, s.rebind("DELETE FROM password_resets WHERE token = ?"), token)
		return classify(op, err)
	})
	if err != nil {
		return "", err
	}
	if now.UnixMilli() > expires {
		return "", apperr.Errorf(apperr.Unauthorized, op, "reset token expired")
	}
	return userID, nil
}

func (s *SQLStore) CreateSession(ctx context.Context, id, userID string, expiresAt time.Time) error {
	query := s.rebind("INSERT INTO sessions (id, user_id, expires_at) VALUES (?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, id, userID, millis(expiresAt))
	return classify("store.CreateSession", err)
}

func (s *SQLStore) SessionActive(ctx context.Context, id string, now time.Time) (bool, error) {
	var revoked bool
	var expires int64
	query := s.rebind("SELECT revoked, expires_at FROM sessions WHERE id = ?")
	err := s.db.QueryRowContext(ctx, query, id).Scan(&revoked, &expires)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, classify("store.SessionActive", err)
	}
	return !revoked && now.UnixMilli() <= expires, nil
}

func (s *SQLStore) RevokeSession(ctx context.Context, id string) error {
	query := s.rebind("UPDATE sessions SET revoked = TRUE WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, id)
	return requireRow("store.RevokeSession", res, err)
}

// requireRow turns "no rows affected" into NotFound.
func requireRow(op string, res sql.Result, err error) error {
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return apperr.E(apperr.NotFound, op, sql.ErrNoRows)
	}
	return nil
}
