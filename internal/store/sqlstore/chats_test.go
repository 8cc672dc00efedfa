package sqlstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/models"
)

func createRoom(t *testing.T, a, b string) *models.ChatRoom {
	t.Helper()
	room := &models.ChatRoom{ID: models.ConversationID(a, b), Participants: []string{a, b}, CreatedAt: epoch}
	if err := testStore.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}
	return room
}

func saveMessage(t *testing.T, id, roomID, sender string, at time.Time) *models.Message {
	t.Helper()
	m := &models.Message{
		ID:                id,
		ConversationID:    roomID,
		SenderID:          sender,
		SenderDisplayName: sender,
		Body:              "Hello " + id,
		CreatedAt:         at,
		ReadBy:            []string{sender},
	}
	if err := testStore.CreateMessage(context.Background(), m); err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}
	return m
}

func TestCreateRoom(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	createUser(t, "a", "alice")
	createUser(t, "b", "bob")
	room := createRoom(t, "a", "b")

	got, err := testStore.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoom failed: %v", err)
	}
	if got.Other("a") != "b" {
		t.Errorf("Expected other participant b, got %q", got.Other("a"))
	}

	again := &models.ChatRoom{ID: room.ID, Participants: []string{"b", "a"}, CreatedAt: epoch}
	if err := testStore.CreateRoom(ctx, again); !apperr.Is(err, apperr.Conflict) {
		t.Errorf("Expected conflict for existing room, got %v", err)
	}
}

func TestListRoomsForUser(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	createUser(t, "a", "alice")
	createUser(t, "b", "bob")
	createUser(t, "c", "carol")
	createRoom(t, "a", "b")
	createRoom(t, "a", "c")
	createRoom(t, "b", "c")

	rooms, err := testStore.ListRoomsForUser(context.Background(), "a")
	if err != nil {
		t.Fatalf("ListRoomsForUser failed: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("Expected 2 rooms, got %d", len(rooms))
	}
	for _, r := range rooms {
		if len(r.Participants) != 2 || !r.HasParticipant("a") {
			t.Errorf("Unexpected participants %v", r.Participants)
		}
	}
}

func TestSaveMessage(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	createUser(t, "a", "alice")
	createUser(t, "b", "bob")
	room := createRoom(t, "a", "b")

	saveMessage(t, "m1", room.ID, "a", epoch)

	messages, err := testStore.ListMessages(ctx, room.ID)
	if err != nil {
		t.Fatalf("Failed to get messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(messages))
	}
	if !messages[0].ReadByUser("a") {
		t.Error("Expected sender in read set")
	}
	if messages[0].ReadByUser("b") {
		t.Error("Expected recipient not to have read the message")
	}

	bad := &models.Message{ID: "m2", ConversationID: room.ID, SenderID: "a", Body: "x", CreatedAt: epoch}
	if err := testStore.CreateMessage(ctx, bad); !apperr.Is(err, apperr.Invalid) {
		t.Errorf("Expected message without sender in read set to be rejected, got %v", err)
	}
}

func TestAddReaderIsIdempotent(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	createUser(t, "a", "alice")
	createUser(t, "b", "bob")
	room := createRoom(t, "a", "b")
	saveMessage(t, "m1", room.ID, "a", epoch)

	added, err := testStore.AddReader(ctx, "m1", "b")
	if err != nil || !added {
		t.Fatalf("Expected first add to change the set, got %v %v", added, err)
	}
	added, err = testStore.AddReader(ctx, "m1", "b")
	if err != nil || added {
		t.Fatalf("Expected second add to be a no-op, got %v %v", added, err)
	}

	m, _ := testStore.GetMessage(ctx, "m1")
	if len(m.ReadBy) != 2 {
		t.Errorf("Expected read set of 2, got %v", m.ReadBy)
	}

	if _, err := testStore.AddReader(ctx, "missing", "b"); !apperr.IsNotFound(err) {
		t.Errorf("Expected not found for unknown message, got %v", err)
	}
}

func TestLatestMessage(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	createUser(t, "a", "alice")
	createUser(t, "b", "bob")
	room := createRoom(t, "a", "b")

	if _, err := testStore.LatestMessage(ctx, room.ID); !apperr.IsNotFound(err) {
		t.Errorf("Expected not found for empty room, got %v", err)
	}

	saveMessage(t, "m1", room.ID, "a", epoch)
	saveMessage(t, "m3", room.ID, "b", epoch.Add(time.Second))
	saveMessage(t, "m2", room.ID, "a", epoch.Add(time.Second))

	latest, err := testStore.LatestMessage(ctx, room.ID)
	if err != nil {
		t.Fatalf("LatestMessage failed: %v", err)
	}
	if latest.ID != "m3" {
		t.Errorf("Expected m3 to win the timestamp tie, got %s", latest.ID)
	}
}

func TestListMessagesForUser(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	createUser(t, "a", "alice")
	createUser(t, "b", "bob")
	createUser(t, "c", "carol")
	ab := createRoom(t, "a", "b")
	bc := createRoom(t, "b", "c")
	saveMessage(t, "m1", ab.ID, "a", epoch)
	saveMessage(t, "m2", bc.ID, "c", epoch)

	msgs, err := testStore.ListMessagesForUser(context.Background(), "a")
	if err != nil {
		t.Fatalf("ListMessagesForUser failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("Expected only m1, got %+v", msgs)
	}
}

func TestDeleteMessage(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	createUser(t, "a", "alice")
	createUser(t, "b", "bob")
	room := createRoom(t, "a", "b")
	saveMessage(t, "m1", room.ID, "a", epoch)
	testStore.AddReader(ctx, "m1", "b")

	if err := testStore.DeleteMessage(ctx, "m1"); err != nil {
		t.Fatalf("Failed to delete message: %v", err)
	}
	if _, err := testStore.GetMessage(ctx, "m1"); !apperr.IsNotFound(err) {
		t.Errorf("Expected deleted message to be not found, got %v", err)
	}
	if err := testStore.DeleteMessage(ctx, "m1"); !apperr.IsNotFound(err) {
		t.Errorf("Expected second delete to be not found, got %v", err)
	}
}

func TestReadsDuringConcurrentDeletes(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	createUser(t, "a", "alice")
	createUser(t, "b", "bob")
	room := createRoom(t, "a", "b")
	const n = 40
	for i := 0; i < n; i++ {
		m := saveMessage(t, fmt.Sprintf("m%02d", i), room.ID, "a", epoch.Add(time.Duration(i)*time.Second))
		if _, err := testStore.AddReader(ctx, m.ID, "b"); err != nil {
			t.Fatalf("AddReader failed: %v", err)
		}
	}

	done := make(chan error, 1)
	go func() {
		for i := n - 1; i >= 0; i-- {
			if err := testStore.DeleteMessage(ctx, fmt.Sprintf("m%02d", i)); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("DeleteMessage failed: %v", err)
			}
			return
		default:
		}
		msgs, err := testStore.ListMessages(ctx, room.ID)
		if err != nil {
			t.Fatalf("ListMessages failed mid-delete: %v", err)
		}
		for _, m := range msgs {
			if !m.ReadByUser("a") || !m.ReadByUser("b") {
				t.Fatalf("Message %s read half its read set: %v", m.ID, m.ReadBy)
			}
		}
		if _, err := testStore.ListMessagesForUser(ctx, "b"); err != nil {
			t.Fatalf("ListMessagesForUser failed mid-delete: %v", err)
		}
		if _, err := testStore.LatestMessage(ctx, room.ID); err != nil && !apperr.IsNotFound(err) {
			t.Fatalf("LatestMessage failed mid-delete: %v", err)
		}
	}
}
