package auth

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/store/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type sentMail struct {
	to, name, link string
}

type fakeMailer struct {
	sent []sentMail
}

func (m *fakeMailer) SendPasswordReset(to, name, link string) error {
	m.sent = append(m.sent, sentMail{to, name, link})
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeMailer) {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mailer := &fakeMailer{}
	svc := NewService(st, mailer, Options{
		Secret:     "test-secret",
		SessionTTL: time.Hour,
		ResetURL:   "http://localhost/reset",
		BcryptCost: bcrypt.MinCost,
	}, zap.NewNop())
	return svc, mailer
}

func TestSignUpAndSignIn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	user, err := svc.SignUp(ctx, " Alice@Example.com ", "secret1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "secret1", user.Password)

	_, err = svc.SignUp(ctx, "alice@example.com", "secret2", "other")
	assert.True(t, apperr.Is(err, apperr.Conflict), "duplicate email, got %v", err)

	_, err = svc.SignUp(ctx, "not-an-email", "secret1", "x")
	assert.True(t, apperr.Is(err, apperr.Invalid))
	_, err = svc.SignUp(ctx, "bob@example.com", "short", "bob")
	assert.True(t, apperr.Is(err, apperr.Invalid))

	_, _, err = svc.SignIn(ctx, "alice@example.com", "wrong")
	assert.True(t, apperr.IsUnauthorized(err))
	_, _, err = svc.SignIn(ctx, "nobody@example.com", "secret1")
	assert.True(t, apperr.IsUnauthorized(err))

	token, signedIn, err := svc.SignIn(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, signedIn.ID)

	id, err := svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id.UserID)
	assert.Equal(t, "alice", id.DisplayName)
}

func TestSignOutRevokesAndNotifies(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	var events []Event
	cancel := svc.Watch(func(ev Event) { events = append(events, ev) })

	_, err := svc.SignUp(ctx, "alice@example.com", "secret1", "")
	require.NoError(t, err)
	token, _, err := svc.SignIn(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)

	id, err := svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "Anonymous", id.DisplayName)

	require.NoError(t, svc.SignOut(ctx, token))
	_, err = svc.Verify(ctx, token)
	assert.True(t, apperr.IsUnauthorized(err), "revoked token must not verify, got %v", err)

	require.Len(t, events, 2)
	assert.Equal(t, SignedIn, events[0].Kind)
	assert.Equal(t, SignedOut, events[1].Kind)
	assert.Equal(t, events[0].SessionID, events[1].SessionID)

	cancel()
	_, _, err = svc.SignIn(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	_, err := svc.SignUp(ctx, "alice@example.com", "secret1", "alice")
	require.NoError(t, err)
	token, _, err := svc.SignIn(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, "garbage")
	assert.True(t, apperr.IsUnauthorized(err))

	other := NewService(svc.store, nil, Options{Secret: "another-secret"}, zap.NewNop())
	_, err = other.Verify(ctx, token)
	assert.True(t, apperr.IsUnauthorized(err), "token signed with another key")

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Verify(ctx, token)
	assert.True(t, apperr.IsUnauthorized(err), "expired token")
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	svc, mailer := newTestService(t)
	_, err := svc.SignUp(ctx, "alice@example.com", "secret1", "alice")
	require.NoError(t, err)

	require.NoError(t, svc.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Empty(t, mailer.sent)

	require.NoError(t, svc.RequestPasswordReset(ctx, "alice@example.com"))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "alice@example.com", mailer.sent[0].to)

	link, err := url.Parse(mailer.sent[0].link)
	require.NoError(t, err)
	token := link.Query().Get("token")
	require.NotEmpty(t, token)

	require.NoError(t, svc.ResetPassword(ctx, token, "newsecret"))
	err = svc.ResetPassword(ctx, token, "newsecret")
	assert.True(t, apperr.IsUnauthorized(err), "tokens are single use")

	_, _, err = svc.SignIn(ctx, "alice@example.com", "secret1")
	assert.True(t, apperr.IsUnauthorized(err))
	_, _, err = svc.SignIn(ctx, "alice@example.com", "newsecret")
	assert.NoError(t, err)
}
