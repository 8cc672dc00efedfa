// Package chat implements two-party direct messaging: conversations, the
// latest-message index, read receipts and the unread indicator.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/blob"
	"github.com/pliu/nwitter/internal/feed"
	"github.com/pliu/nwitter/internal/models"
	"github.com/pliu/nwitter/internal/store"
	"go.uber.org/zap"
)

// Profiles resolves the public profile shown next to a conversation.
type Profiles interface {
	Get(ctx context.Context, userID string) (models.Profile, error)
}

// Conversation is one row of the viewer's conversation list.
type Conversation struct {
	ID     string         `json:"id"`
	With   models.Profile `json:"with"`
	Latest models.Message `json:"latest"`
	Unread bool           `json:"unread"`
}

type Service struct {
	store    store.Store
	blobs    blob.Store
	broker   *feed.Broker
	profiles Profiles
	marker   *Marker
	log      *zap.Logger
	now      func() time.Time
}

func NewService(st store.Store, blobs blob.Store, broker *feed.Broker, profiles Profiles, marker *Marker, log *zap.Logger) *Service {
	return &Service{
		store:    st,
		blobs:    blobs,
		broker:   broker,
		profiles: profiles,
		marker:   marker,
		log:      log,
		now:      time.Now,
	}
}

// room loads a conversation and checks that viewer takes part in it.
func (s *Service) room(ctx context.Context, op, viewer, conversationID string) (*models.ChatRoom, error) {
	room, err := s.store.GetRoom(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(viewer) {
		return nil, apperr.Errorf(apperr.Unauthorized, op, "not a participant of %s", conversationID)
	}
	return room, nil
}

// StartChat returns the conversation between actor and other, creating it
// on first use.
func (s *Service) StartChat(ctx context.Context, actor, other string) (*models.ChatRoom, error) {
	const op = "chat.StartChat"
	if other == "" || other == actor {
		return nil, apperr.Errorf(apperr.Invalid, op, "cannot start a chat with yourself")
	}
	if _, err := s.store.GetUserByID(ctx, other); err != nil {
		return nil, err
	}

	id := models.ConversationID(actor, other)
	room, err := s.store.GetRoom(ctx, id)
	if err == nil {
		return room, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}

	participants := []string{actor, other}
	if other < actor {
		participants = []string{other, actor}
	}
	room = &models.ChatRoom{ID: id, Participants: participants, CreatedAt: models.Timestamp(s.now())}
	err = s.store.CreateRoom(ctx, room)
	if apperr.Is(err, apperr.Conflict) {
		// Created by the other participant in the meantime.
		return s.store.GetRoom(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Service) SendMessage(ctx context.Context, actor, conversationID, body string, att *blob.Upload) (*models.Message, error) {
	const op = "chat.SendMessage"
	if _, err := s.room(ctx, op, actor, conversationID); err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Errorf(apperr.Invalid, op, "message body is empty")
	}
	sender, err := s.store.GetUserByID(ctx, actor)
	if err != nil {
		return nil, err
	}

	m := &models.Message{
		ID:                uuid.NewString(),
		ConversationID:    conversationID,
		SenderID:          actor,
		SenderDisplayName: sender.NameOrAnonymous(),
		Body:              body,
		CreatedAt:         models.Timestamp(s.now()),
		ReadBy:            []string{actor},
	}
	if att != nil {
		if err := blob.CheckImage(att.Size, att.ContentType); err != nil {
			return nil, err
		}
		path := blob.MessagePath(m.ID)
		if err := s.blobs.Put(ctx, path, att.Body, att.Size, att.ContentType); err != nil {
			return nil, err
		}
		m.AttachmentPath = path
		if m.AttachmentURL, err = s.blobs.URL(ctx, path); err != nil {
			s.discardBlob(path)
			return nil, err
		}
	}

	if err := s.store.CreateMessage(ctx, m); err != nil {
		if m.AttachmentPath != "" {
			s.discardBlob(m.AttachmentPath)
		}
		return nil, err
	}
	return m, nil
}

func (s *Service) discardBlob(path string) {
	if err := s.blobs.Delete(context.Background(), path); err != nil && !apperr.IsNotFound(err) {
		s.log.Warn("orphaned blob", zap.String("path", path), zap.Error(err))
	}
}

// DeleteMessage removes a message and its attachment. Only the sender may
// delete it.
func (s *Service) DeleteMessage(ctx context.Context, actor, messageID string) error {
	const op = "chat.DeleteMessage"
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != actor {
		return apperr.Errorf(apperr.Unauthorized, op, "only the sender can delete a message")
	}
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	if m.AttachmentPath != "" {
		if err := s.blobs.Delete(ctx, m.AttachmentPath); err != nil && !apperr.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// Messages returns the conversation oldest first.
func (s *Service) Messages(ctx context.Context, viewer, conversationID string) ([]models.Message, error) {
	if _, err := s.room(ctx, "chat.Messages", viewer, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	s.resolveAttachments(ctx, msgs)
	return msgs, nil
}

// resolveAttachments refreshes attachment URLs, which may expire. A blob
// that has gone missing leaves the message without an attachment.
func (s *Service) resolveAttachments(ctx context.Context, msgs []models.Message) {
	for i := range msgs {
		m := &msgs[i]
		if m.AttachmentPath == "" {
			continue
		}
		u, err := s.blobs.URL(ctx, m.AttachmentPath)
		if err != nil {
			if !apperr.IsNotFound(err) {
				s.log.Warn("attachment url", zap.String("message_id", m.ID), zap.Error(err))
			}
			u = ""
		}
		m.AttachmentURL = u
	}
}

// WatchConversation streams the conversation's messages, re-delivering the
// whole list after every change.
func (s *Service) WatchConversation(ctx context.Context, viewer, conversationID string) (*store.Subscription[[]models.Message], error) {
	if _, err := s.room(ctx, "chat.WatchConversation", viewer, conversationID); err != nil {
		return nil, err
	}
	return store.Watch(ctx, s.broker, func(ctx context.Context) ([]models.Message, error) {
		msgs, err := s.store.ListMessages(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		s.resolveAttachments(ctx, msgs)
		return msgs, nil
	}, feed.MessagesTopic(conversationID)), nil
}

// Conversations lists the viewer's conversations that have messages,
// latest activity first.
func (s *Service) Conversations(ctx context.Context, viewer string) ([]Conversation, error) {
	rooms, msgs, err := s.conversationSources(ctx, viewer)
	if err != nil {
		return nil, err
	}
	ix := NewIndex()
	ix.Apply(msgs)
	return s.buildConversations(ctx, viewer, rooms, msgs, ix)
}

// WatchConversations streams the viewer's conversation list, re-delivering
// it after any change to one of their conversations.
func (s *Service) WatchConversations(ctx context.Context, viewer string) *store.Subscription[[]Conversation] {
	// Fetches run one at a time, so the index needs no lock.
	ix := NewIndex()
	return store.Watch(ctx, s.broker, func(ctx context.Context) ([]Conversation, error) {
		rooms, msgs, err := s.conversationSources(ctx, viewer)
		if err != nil {
			return nil, err
		}
		ix.Sync(msgs)
		return s.buildConversations(ctx, viewer, rooms, msgs, ix)
	}, feed.RoomsTopic(viewer))
}

func (s *Service) conversationSources(ctx context.Context, viewer string) ([]models.ChatRoom, []models.Message, error) {
	rooms, err := s.store.ListRoomsForUser(ctx, viewer)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.ListMessagesForUser(ctx, viewer)
	if err != nil {
		return nil, nil, err
	}
	return rooms, msgs, nil
}

func (s *Service) buildConversations(ctx context.Context, viewer string, rooms []models.ChatRoom, msgs []models.Message, ix *Index) ([]Conversation, error) {
	byID := make(map[string]*models.ChatRoom, len(rooms))
	for i := range rooms {
		byID[rooms[i].ID] = &rooms[i]
	}
	unread := make(map[string]bool)
	for i := range msgs {
		if IsUnreadBy(viewer, &msgs[i]) {
			unread[msgs[i].ConversationID] = true
		}
	}

	out := make([]Conversation, 0, ix.Len())
	for _, latest := range ix.Entries() {
		room := byID[latest.ConversationID]
		if room == nil {
			continue
		}
		other := room.Other(viewer)
		profile, err := s.profiles.Get(ctx, other)
		if apperr.IsNotFound(err) {
			profile = models.Profile{ID: other, DisplayName: models.AnonymousName}
		} else if err != nil {
			return nil, err
		}
		out = append(out, Conversation{ID: room.ID, With: profile, Latest: latest, Unread: unread[room.ID]})
	}
	return out, nil
}

// MarkRead marks the conversation read for viewer.
func (s *Service) MarkRead(ctx context.Context, viewer, conversationID string) (int, error) {
	return s.marker.MarkConversationRead(ctx, viewer, conversationID)
}
