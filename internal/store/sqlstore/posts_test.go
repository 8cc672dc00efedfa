package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/models"
	"github.com/pliu/nwitter/internal/store"
)

func createPost(t *testing.T, id, author string, at time.Time) *models.Post {
	t.Helper()
	p := &models.Post{ID: id, AuthorID: author, AuthorDisplayName: author, Body: "post " + id, CreatedAt: at, UpdatedAt: at}
	if err := testStore.CreatePost(context.Background(), p); err != nil {
		t.Fatalf("Failed to create post: %v", err)
	}
	return p
}

func TestListPosts(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	createUser(t, "a", "alice")
	createUser(t, "b", "bob")
	createPost(t, "p1", "a", epoch)
	createPost(t, "p2", "b", epoch.Add(time.Minute))
	createPost(t, "p3", "a", epoch.Add(2*time.Minute))

	all, err := testStore.ListPosts(ctx, store.PostQuery{Limit: 2})
	if err != nil {
		t.Fatalf("ListPosts failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "p3" || all[1].ID != "p2" {
		t.Errorf("Unexpected timeline %+v", all)
	}

	mine, _ := testStore.ListPosts(ctx, store.PostQuery{AuthorID: "a"})
	if len(mine) != 2 {
		t.Errorf("Expected 2 posts by a, got %d", len(mine))
	}
}

func TestUpdateAndDeletePost(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	createUser(t, "a", "alice")
	p := createPost(t, "p1", "a", epoch)

	p.Body = "edited"
	p.UpdatedAt = epoch.Add(time.Hour)
	if err := testStore.UpdatePost(ctx, p); err != nil {
		t.Fatalf("UpdatePost failed: %v", err)
	}
	got, _ := testStore.GetPost(ctx, "p1")
	if got.Body != "edited" {
		t.Errorf("Expected edited body, got %q", got.Body)
	}

	testStore.PutEngagement(ctx, &models.Engagement{Kind: models.Like, UserID: "a", PostID: "p1", CreatedAt: epoch})
	if err := testStore.DeletePost(ctx, "p1"); err != nil {
		t.Fatalf("DeletePost failed: %v", err)
	}
	if _, err := testStore.GetPost(ctx, "p1"); !apperr.IsNotFound(err) {
		t.Errorf("Expected deleted post to be not found, got %v", err)
	}
	if n, _ := testStore.CountEngagements(ctx, models.Like, "p1"); n != 0 {
		t.Errorf("Expected engagements to be deleted with the post, got %d", n)
	}
}

func TestEngagements(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	createUser(t, "a", "alice")
	createPost(t, "p1", "a", epoch)
	createPost(t, "p2", "a", epoch)

	e := &models.Engagement{Kind: models.Bookmark, UserID: "a", PostID: "p1", CreatedAt: epoch}
	testStore.PutEngagement(ctx, e)
	testStore.PutEngagement(ctx, e)
	testStore.PutEngagement(ctx, &models.Engagement{Kind: models.Bookmark, UserID: "a", PostID: "p2", CreatedAt: epoch.Add(time.Minute)})

	if n, _ := testStore.CountEngagements(ctx, models.Bookmark, "p1"); n != 1 {
		t.Errorf("Expected composite key to dedupe, got %d", n)
	}
	list, _ := testStore.ListEngagementsByUser(ctx, models.Bookmark, "a")
	if len(list) != 2 || list[0].PostID != "p2" {
		t.Errorf("Expected newest bookmark first, got %+v", list)
	}

	if err := testStore.DeleteEngagement(ctx, models.Bookmark, "a", "p1"); err != nil {
		t.Fatalf("DeleteEngagement failed: %v", err)
	}
	if ok, _ := testStore.HasEngagement(ctx, models.Bookmark, "a", "p1"); ok {
		t.Error("Expected bookmark to be removed")
	}
	if err := testStore.DeleteEngagement(ctx, models.Bookmark, "a", "p1"); !apperr.IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}

	bad := &models.Engagement{Kind: "retweet", UserID: "a", PostID: "p1"}
	if err := testStore.PutEngagement(ctx, bad); !apperr.Is(err, apperr.Invalid) {
		t.Errorf("Expected unknown kind to be rejected, got %v", err)
	}
}
