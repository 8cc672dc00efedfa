package chat

import (
	"slices"

	"github.com/pliu/nwitter/internal/models"
)

// LatestByConversation reduces msgs to the newest message of every
// conversation that appears in it. Newest is decided by Message.Before, so
// equal timestamps resolve to the greater id whatever the input order.
func LatestByConversation(msgs []models.Message) map[string]models.Message {
	latest := make(map[string]models.Message)
	for _, m := range msgs {
		if cur, ok := latest[m.ConversationID]; !ok || cur.Before(&m) {
			latest[m.ConversationID] = m
		}
	}
	return latest
}

// Index is the incremental form of LatestByConversation. It is not safe
// for concurrent use.
type Index struct {
	latest map[string]models.Message
}

func NewIndex() *Index {
	return &Index{latest: make(map[string]models.Message)}
}

// Add folds one arriving message in and reports whether it became the
// latest of its conversation. A fresher copy of the current latest, such
// as one with a longer read set, replaces it.
func (ix *Index) Add(m models.Message) bool {
	if cur, ok := ix.latest[m.ConversationID]; ok && cur.ID != m.ID && !cur.Before(&m) {
		return false
	}
	ix.latest[m.ConversationID] = m
	return true
}

// Remove drops the conversation's entry if messageID is its latest
// message, and reports whether it did. The caller re-seeds the
// conversation from the store.
func (ix *Index) Remove(conversationID, messageID string) bool {
	if cur, ok := ix.latest[conversationID]; ok && cur.ID == messageID {
		delete(ix.latest, conversationID)
		return true
	}
	return false
}

// Apply replaces the index with the result of a full snapshot.
func (ix *Index) Apply(msgs []models.Message) {
	ix.latest = LatestByConversation(msgs)
}

// Sync folds a later snapshot into an index built from an earlier one.
// Conversations whose latest message has gone are dropped and re-seeded
// from msgs; the rest only move forward.
func (ix *Index) Sync(msgs []models.Message) {
	present := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		present[m.ID] = true
	}
	for conv, cur := range ix.latest {
		if !present[cur.ID] {
			ix.Remove(conv, cur.ID)
		}
	}
	for _, m := range msgs {
		ix.Add(m)
	}
}

func (ix *Index) Len() int { return len(ix.latest) }

// Entries returns one message per conversation, newest first.
func (ix *Index) Entries() []models.Message {
	out := make([]models.Message, 0, len(ix.latest))
	for _, m := range ix.latest {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b models.Message) int {
		switch {
		case b.Before(&a):
			return -1
		case a.Before(&b):
			return 1
		}
		return 0
	})
	return out
}
