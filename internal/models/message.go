package models

import (
	"slices"
	"strings"
	"time"

	"github.com/pliu/nwitter/internal/apperr"
)

// MaxAttachmentSize bounds message, post and avatar uploads.
const MaxAttachmentSize = 1 << 20

// Timestamp normalizes t to what the store keeps: UTC with millisecond
// precision. Values handed back to callers go through it so they compare
// equal to a later read.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

type Message struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	SenderID          string    `json:"sender_id"`
	SenderDisplayName string    `json:"sender_display_name"`
	Body              string    `json:"body"`
	CreatedAt         time.Time `json:"created_at"`
	ReadBy            []string  `json:"read_by"`
	AttachmentPath    string    `json:"-"`
	AttachmentURL     string    `json:"attachment_url,omitempty"`
}

// ReadByUser reports whether userID is in the message's read set.
func (m *Message) ReadByUser(userID string) bool {
	return slices.Contains(m.ReadBy, userID)
}

// AddReader unions userID into ReadBy and reports whether it was added.
// ReadBy stays sorted and free of duplicates.
func (m *Message) AddReader(userID string) bool {
	i, found := slices.BinarySearch(m.ReadBy, userID)
	if found {
		return false
	}
	m.ReadBy = slices.Insert(m.ReadBy, i, userID)
	return true
}

// Before orders messages by CreatedAt, then by ID. It is the total order
// used everywhere a "latest message" is picked.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// Validate rejects records whose shape breaks the message invariants.
func (m *Message) Validate() error {
	switch {
	case m.ID == "":
		return invalid("message", "missing id")
	case m.ConversationID == "":
		return invalid("message", "missing conversation id")
	case m.SenderID == "":
		return invalid("message", "missing sender id")
	case strings.TrimSpace(m.Body) == "":
		return invalid("message", "empty body")
	case m.CreatedAt.IsZero():
		return invalid("message", "missing created_at")
	case !m.ReadByUser(m.SenderID):
		return invalid("message", "sender missing from read set")
	}
	return nil
}

func invalid(kind, reason string) error {
	return apperr.Errorf(apperr.Invalid, "models.Validate", "%s: %s", kind, reason)
}
