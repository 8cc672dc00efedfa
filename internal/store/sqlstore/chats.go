package sqlstore

import (
	"context"
	"database/sql"
	"slices"

	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/feed"
	"github.com/pliu/nwitter/internal/models"
)

// CreateRoom inserts the room with its fixed participant set. An existing
// room with the same id is a Conflict.
func (s *SQLStore) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
	const op = "store.CreateRoom"
	if err := room.Validate(); err != nil {
		return err
	}
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO chat_rooms (id, created_at) VALUES (?, ?)"), room.ID, millis(room.CreatedAt)); err != nil {
			return classify(op, err)
		}
		for _, p := range room.Participants {
			if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO room_participants (room_id, user_id) VALUES (?, ?)"), room.ID, p); err != nil {
				return classify(op, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(roomsTopics(room.Participants)...)
	return nil
}

func (s *SQLStore) GetRoom(ctx context.Context, id string) (*models.ChatRoom, error) {
	const op = "store.GetRoom"
	room := &models.ChatRoom{ID: id}
	var created int64
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT created_at FROM chat_rooms WHERE id = ?"), id).Scan(&created)
	if err != nil {
		return nil, classify(op, err)
	}
	room.CreatedAt = fromMillis(created)

	participants, err := s.participants(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	room.Participants = participants
	if err := room.Validate(); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *SQLStore) participants(ctx context.Context, q querier, roomID string) ([]string, error) {
	const op = "store.participants"
	rows, err := q.QueryContext(ctx, s.rebind("SELECT user_id FROM room_participants WHERE room_id = ? ORDER BY user_id"), roomID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify(op, err)
		}
		out = append(out, id)
	}
	return out, classify(op, rows.Err())
}

func (s *SQLStore) ListRoomsForUser(ctx context.Context, userID string) ([]models.ChatRoom, error) {
	const op = "store.ListRoomsForUser"
	query := s.rebind(`
		SELECT r.id, r.created_at, p.user_id
		FROM chat_rooms r
		JOIN room_participants p ON p.room_id = r.id
		WHERE r.id IN (SELECT room_id FROM room_participants WHERE user_id = ?)
		ORDER BY r.created_at DESC, r.id, p.user_id
	`)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var rooms []models.ChatRoom
	for rows.Next() {
		var id, participant string
		var created int64
		if err := rows.Scan(&id, &created, &participant); err != nil {
			return nil, classify(op, err)
		}
		if n := len(rooms); n == 0 || rooms[n-1].ID != id {
			rooms = append(rooms, models.ChatRoom{ID: id, CreatedAt: fromMillis(created)})
		}
		last := &rooms[len(rooms)-1]
		last.Participants = append(last.Participants, participant)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	for i := range rooms {
		if err := rooms[i].Validate(); err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

const messageColumns = "m.id, m.room_id, m.sender_id, m.sender_name, m.body, m.attachment_path, m.attachment_url, m.created_at"

// CreateMessage stores the message and its initial read set.
func (s *SQLStore) CreateMessage(ctx context.Context, m *models.Message) error {
	const op = "store.CreateMessage"
	if err := m.Validate(); err != nil {
		return err
	}
	var topics []string
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		query := s.rebind("INSERT INTO messages (id, room_id, sender_id, sender_name, body, attachment_path, attachment_url, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
		if _, err := tx.ExecContext(ctx, query, m.ID, m.ConversationID, m.SenderID, m.SenderDisplayName, m.Body, m.AttachmentPath, m.AttachmentURL, millis(m.CreatedAt)); err != nil {
			return classify(op, err)
		}
		for _, reader := range m.ReadBy {
			if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO message_reads (message_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING"), m.ID, reader); err != nil {
				return classify(op, err)
			}
		}
		var err error
		topics, err = s.roomChangeTopics(ctx, tx, m.ConversationID)
		return err
	})
	if err != nil {
		return err
	}
	s.publish(topics...)
	return nil
}

func (s *SQLStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msgs, err := s.listMessages(ctx, "store.GetMessage",
		"SELECT "+messageColumns+" FROM messages m WHERE m.id = ?",
		"SELECT r.message_id, r.user_id FROM message_reads r WHERE r.message_id = ?",
		id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, apperr.E(apperr.NotFound, "store.GetMessage", sql.ErrNoRows)
	}
	return &msgs[0], nil
}

func (s *SQLStore) DeleteMessage(ctx context.Context, id string) error {
	const op = "store.DeleteMessage"
	var topics []string
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		var roomID string
		if err := tx.QueryRowContext(ctx, s.rebind("SELECT room_id FROM messages WHERE id = ?"), id).Scan(&roomID); err != nil {
			return classify(op, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM message_reads WHERE message_id = ?"), id); err != nil {
			return classify(op, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM messages WHERE id = ?"), id); err != nil {
			return classify(op, err)
		}
		var err error
		topics, err = s.roomChangeTopics(ctx, tx, roomID)
		return err
	})
	if err != nil {
		return err
	}
	s.publish(topics...)
	return nil
}

// ListMessages returns the room's messages oldest first.
func (s *SQLStore) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	return s.listMessages(ctx, "store.ListMessages",
		"SELECT "+messageColumns+" FROM messages m WHERE m.room_id = ? ORDER BY m.created_at ASC, m.id ASC",
		"SELECT r.message_id, r.user_id FROM message_reads r JOIN messages m ON m.id = r.message_id WHERE m.room_id = ?",
		roomID)
}

// LatestMessage returns the newest message of the room, NotFound if the
// room has none.
func (s *SQLStore) LatestMessage(ctx context.Context, roomID string) (*models.Message, error) {
	const op = "store.LatestMessage"
	var msgs []models.Message
	err := s.readTx(ctx, op, func(tx *sql.Tx) error {
		var id string
		query := s.rebind("SELECT id FROM messages WHERE room_id = ? ORDER BY created_at DESC, id DESC LIMIT 1")
		if err := tx.QueryRowContext(ctx, query, roomID).Scan(&id); err != nil {
			return classify(op, err)
		}
		var err error
		msgs, err = s.queryMessages(ctx, tx, op,
			"SELECT "+messageColumns+" FROM messages m WHERE m.id = ?",
			"SELECT r.message_id, r.user_id FROM message_reads r WHERE r.message_id = ?",
			id)
		if err == nil && len(msgs) == 0 {
			err = apperr.E(apperr.NotFound, op, sql.ErrNoRows)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// ListMessagesForUser returns every message of every room userID is in.
func (s *SQLStore) ListMessagesForUser(ctx context.Context, userID string) ([]models.Message, error) {
	return s.listMessages(ctx, "store.ListMessagesForUser",
		"SELECT "+messageColumns+" FROM messages m JOIN room_participants p ON p.room_id = m.room_id WHERE p.user_id = ? ORDER BY m.created_at ASC, m.id ASC",
		"SELECT r.message_id, r.user_id FROM message_reads r JOIN messages m ON m.id = r.message_id JOIN room_participants p ON p.room_id = m.room_id WHERE p.user_id = ?",
		userID)
}

// AddReader unions userID into the message's read set. It reports whether
// the set changed; adding an existing reader is a no-op.
func (s *SQLStore) AddReader(ctx context.Context, messageID, userID string) (bool, error) {
	const op = "store.AddReader"
	var added bool
	var topics []string
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		var roomID string
		if err := tx.QueryRowContext(ctx, s.rebind("SELECT room_id FROM messages WHERE id = ?"), messageID).Scan(&roomID); err != nil {
			return classify(op, err)
		}
		res, err := tx.ExecContext(ctx, s.rebind("INSERT INTO message_reads (message_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING"), messageID, userID)
		if err != nil {
			return classify(op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classify(op, err)
		}
		added = n > 0
		if added {
			topics, err = s.roomChangeTopics(ctx, tx, roomID)
		}
		return err
	})
	if err != nil {
		return false, err
	}
	s.publish(topics...)
	return added, nil
}

// listMessages runs queryMessages in its own read transaction, so a
// message deleted between the two queries is never seen half-read.
func (s *SQLStore) listMessages(ctx context.Context, op, msgQuery, readQuery string, arg any) ([]models.Message, error) {
	var msgs []models.Message
	err := s.readTx(ctx, op, func(tx *sql.Tx) error {
		var err error
		msgs, err = s.queryMessages(ctx, tx, op, msgQuery, readQuery, arg)
		return err
	})
	return msgs, err
}

// queryMessages runs a message query and a matching read-set query on q,
// and stitches the two. The queries run one after the other so a single
// connection is enough.
func (s *SQLStore) queryMessages(ctx context.Context, q querier, op, msgQuery, readQuery string, arg any) ([]models.Message, error) {
	rows, err := q.QueryContext(ctx, s.rebind(msgQuery), arg)
	if err != nil {
		return nil, classify(op, err)
	}
	var msgs []models.Message
	index := make(map[string]int)
	for rows.Next() {
		var m models.Message
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderDisplayName, &m.Body, &m.AttachmentPath, &m.AttachmentURL, &created); err != nil {
			rows.Close()
			return nil, classify(op, err)
		}
		m.CreatedAt = fromMillis(created)
		index[m.ID] = len(msgs)
		msgs = append(msgs, m)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, classify(op, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	rows, err = q.QueryContext(ctx, s.rebind(readQuery), arg)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var msgID, reader string
		if err := rows.Scan(&msgID, &reader); err != nil {
			return nil, classify(op, err)
		}
		if i, ok := index[msgID]; ok {
			msgs[i].AddReader(reader)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}

	for i := range msgs {
		if err := msgs[i].Validate(); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

func (s *SQLStore) roomChangeTopics(ctx context.Context, q querier, roomID string) ([]string, error) {
	participants, err := s.participants(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	return append(roomsTopics(participants), feed.MessagesTopic(roomID)), nil
}

func roomsTopics(participants []string) []string {
	topics := make([]string, 0, len(participants))
	for _, p := range slices.Compact(slices.Sorted(slices.Values(participants))) {
		topics = append(topics, feed.RoomsTopic(p))
	}
	return topics
}
