package profile

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/blob"
	"github.com/pliu/nwitter/internal/models"
	"github.com/pliu/nwitter/internal/store/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const defaultAvatar = "/static/defaultavatar.svg"

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	blobs, err := blob.NewDir(t.TempDir(), "/blobs")
	require.NoError(t, err)

	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, u := range []models.User{
		{ID: "a", Email: "a@example.com", DisplayName: "alice", Password: "x", CreatedAt: created},
		{ID: "b", Email: "b@example.com", Password: "x", CreatedAt: created},
	} {
		require.NoError(t, st.CreateUser(context.Background(), &u))
	}
	return NewService(st, blobs, nil, defaultAvatar, zap.NewNop())
}

func TestGetFallsBackToDefaults(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, err := svc.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, models.Profile{ID: "b", DisplayName: "Anonymous", AvatarURL: defaultAvatar}, p)

	_, err = svc.Get(ctx, "ghost")
	assert.True(t, apperr.IsNotFound(err))
}

func TestUploadAvatar(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	up := &blob.Upload{Body: strings.NewReader("png"), Size: 3, ContentType: "image/png"}
	p, err := svc.UploadAvatar(ctx, "a", up)
	require.NoError(t, err)
	assert.Equal(t, "/blobs/avatars/a", p.AvatarURL)

	url, err := svc.AvatarURL(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "/blobs/avatars/a", url)

	bad := &blob.Upload{Body: strings.NewReader("<svg/>"), Size: 6, ContentType: "text/xml"}
	_, err = svc.UploadAvatar(ctx, "a", bad)
	assert.True(t, apperr.Is(err, apperr.Invalid))
}

func TestUpdateDisplayName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, err := svc.UpdateDisplayName(ctx, "b", "  bob ")
	require.NoError(t, err)
	assert.Equal(t, "bob", p.DisplayName)

	_, err = svc.UpdateDisplayName(ctx, "b", "")
	assert.True(t, apperr.Is(err, apperr.Invalid))

	found, err := svc.Search(ctx, "bo", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "b", found[0].ID)

	none, err := svc.Search(ctx, " ", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
