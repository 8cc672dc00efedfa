// Package auth signs users up and in, and issues revocable session tokens.
package auth

import (
	"context"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/models"
	"github.com/pliu/nwitter/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 6

type EventKind int

const (
	SignedIn EventKind = iota + 1
	SignedOut
)

func (k EventKind) String() string {
	if k == SignedIn {
		return "signed_in"
	}
	return "signed_out"
}

type Event struct {
	Kind      EventKind
	UserID    string
	SessionID string
}

// Identity is who a verified token belongs to.
type Identity struct {
	UserID      string `json:"id"`
	SessionID   string `json:"-"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(to, name, link string) error
}

type Options struct {
	Secret        string
	SessionTTL    time.Duration
	ResetURL      string
	ResetTokenTTL time.Duration
	BcryptCost    int
}

type Service struct {
	store store.Store
	mail  Mailer
	opts  Options
	log   *zap.Logger
	now   func() time.Time

	mu       sync.Mutex
	watchers map[int]func(Event)
	nextID   int
}

func NewService(st store.Store, mailer Mailer, opts Options, log *zap.Logger) *Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 7 * 24 * time.Hour
	}
	if opts.ResetTokenTTL <= 0 {
		opts.ResetTokenTTL = time.Hour
	}
	return &Service{
		store:    st,
		mail:     mailer,
		opts:     opts,
		log:      log,
		now:      time.Now,
		watchers: make(map[int]func(Event)),
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Errorf(apperr.Invalid, "auth.normalizeEmail", "invalid email address")
	}
	return email, nil
}

func checkPassword(op, password string) error {
	if len(password) < MinPasswordLength {
		return apperr.Errorf(apperr.Invalid, op, "password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (*models.User, error) {
	const op = "auth.SignUp"
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(op, password); err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return nil, apperr.E(apperr.Fatal, op, err)
	}
	user := &models.User{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: strings.TrimSpace(displayName),
		Password:    string(hashed),
		CreatedAt:   models.Timestamp(s.now()),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info("user signed up", zap.String("user_id", user.ID))
	return user, nil
}

// SignIn checks the credentials and opens a session. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, email, password string) (string, *models.User, error) {
	const op = "auth.SignIn"
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if apperr.IsNotFound(err) {
		return "", nil, apperr.Errorf(apperr.Unauthorized, op, "invalid credentials")
	}
	if err != nil {
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", nil, apperr.Errorf(apperr.Unauthorized, op, "invalid credentials")
	}

	now := s.now()
	sessionID := uuid.NewString()
	expires := now.Add(s.opts.SessionTTL)
	if err := s.store.CreateSession(ctx, sessionID, user.ID, expires); err != nil {
		return "", nil, err
	}
	token, err := signToken([]byte(s.opts.Secret), user.ID, sessionID, now, expires)
	if err != nil {
		return "", nil, apperr.E(apperr.Fatal, op, err)
	}
	s.emit(Event{Kind: SignedIn, UserID: user.ID, SessionID: sessionID})
	return token, user, nil
}

// SignOut revokes the token's session. Every later Verify of the token
// fails.
func (s *Service) SignOut(ctx context.Context, token string) error {
	const op = "auth.SignOut"
	claims, err := parseToken([]byte(s.opts.Secret), token, s.now)
	if err != nil {
		return apperr.E(apperr.Unauthorized, op, err)
	}
	if err := s.store.RevokeSession(ctx, claims.ID); err != nil {
		return err
	}
	s.emit(Event{Kind: SignedOut, UserID: claims.Subject, SessionID: claims.ID})
	return nil
}

func (s *Service) Verify(ctx context.Context, token string) (Identity, error) {
	const op = "auth.Verify"
	claims, err := parseToken([]byte(s.opts.Secret), token, s.now)
	if err != nil {
		return Identity{}, apperr.E(apperr.Unauthorized, op, err)
	}
	active, err := s.store.SessionActive(ctx, claims.ID, s.now())
	if err != nil {
		return Identity{}, err
	}
	if !active {
		return Identity{}, apperr.Errorf(apperr.Unauthorized, op, "session ended")
	}
	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if apperr.IsNotFound(err) {
		return Identity{}, apperr.E(apperr.Unauthorized, op, err)
	}
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: user.ID, SessionID: claims.ID, DisplayName: user.NameOrAnonymous(), Email: user.Email}, nil
}

// Watch calls fn for every sign-in and sign-out until the returned cancel
// func is called. fn runs inside the triggering call and must not block.
func (s *Service) Watch(fn func(Event)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Service) emit(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// RequestPasswordReset mails a one-time reset link. Unknown addresses
// succeed without sending anything.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	const op = "auth.RequestPasswordReset"
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if apperr.IsNotFound(err) {
		s.log.Info("password reset for unknown email ignored")
		return nil
	}
	if err != nil {
		return err
	}

	token := uuid.NewString()
	if err := s.store.CreatePasswordReset(ctx, token, user.ID, s.now().Add(s.opts.ResetTokenTTL)); err != nil {
		return err
	}
	link := s.opts.ResetURL + "?token=" + token
	if err := s.mail.SendPasswordReset(user.Email, user.NameOrAnonymous(), link); err != nil {
		return apperr.E(apperr.Transient, op, err)
	}
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	const op = "auth.ResetPassword"
	if err := checkPassword(op, newPassword); err != nil {
		return err
	}
	userID, err := s.store.ConsumePasswordReset(ctx, token, s.now())
	if apperr.IsNotFound(err) {
		return apperr.Errorf(apperr.Unauthorized, op, "invalid reset token")
	}
	if err != nil {
		return err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.opts.BcryptCost)
	if err != nil {
		return apperr.E(apperr.Fatal, op, err)
	}
	user.Password = string(hashed)
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return err
	}
	s.log.Info("password reset", zap.String("user_id", user.ID))
	return nil
}
