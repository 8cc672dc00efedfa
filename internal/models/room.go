package models

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// ChatRoom is a two-party conversation. Participants are fixed at creation.
type ChatRoom struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// ConversationID derives the room id for two users. The ids are sorted and
// length-prefixed so the result never depends on argument order and two
// different pairs can never produce the same id.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	var sb strings.Builder
	sb.WriteString("dm:")
	for i, id := range []string{a, b} {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(strconv.Itoa(len(id)))
		sb.WriteByte(':')
		sb.WriteString(id)
	}
	return sb.String()
}

func (r *ChatRoom) HasParticipant(userID string) bool {
	return slices.Contains(r.Participants, userID)
}

// Other returns the participant that is not viewer, or "" if viewer is not
// in the room.
func (r *ChatRoom) Other(viewer string) string {
	if !r.HasParticipant(viewer) {
		return ""
	}
	for _, p := range r.Participants {
		if p != viewer {
			return p
		}
	}
	return ""
}

func (r *ChatRoom) Validate() error {
	if r.ID == "" {
		return invalid("chat room", "missing id")
	}
	if len(r.Participants) != 2 || r.Participants[0] == r.Participants[1] {
		return invalid("chat room", "must have exactly two distinct participants")
	}
	if r.ID != ConversationID(r.Participants[0], r.Participants[1]) {
		return invalid("chat room", "id does not match participants")
	}
	return nil
}
