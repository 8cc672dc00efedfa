package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/pliu/nwitter/internal/auth"
	"github.com/pliu/nwitter/internal/blob"
	"github.com/pliu/nwitter/internal/chat"
	"github.com/pliu/nwitter/internal/feed"
	"github.com/pliu/nwitter/internal/profile"
	"github.com/pliu/nwitter/internal/retry"
	"github.com/pliu/nwitter/internal/social"
	"github.com/pliu/nwitter/internal/store/sqlstore"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type fakeMailer struct {
	links []string
}

func (m *fakeMailer) SendPasswordReset(to, name, link string) error {
	m.links = append(m.links, link)
	return nil
}

type testServer struct {
	handler http.Handler
	mailer  *fakeMailer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	broker := feed.NewBroker(nil)
	go broker.Run(ctx)

	st, err := sqlstore.New("sqlite3", ":memory:", broker)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cancel()
		st.Close()
	})
	blobs, err := blob.NewDir(t.TempDir(), "/blobs")
	if err != nil {
		t.Fatal(err)
	}

	log := zap.NewNop()
	mailer := &fakeMailer{}
	authSvc := auth.NewService(st, mailer, auth.Options{
		Secret:     "test-secret",
		SessionTTL: time.Hour,
		ResetURL:   "http://localhost/reset",
		BcryptCost: bcrypt.MinCost,
	}, log)
	profiles := profile.NewService(st, blobs, nil, "/default.svg", log)
	marker := chat.NewMarker(st, retry.DefaultPolicy(), nil, log)

	router := NewRouter(Deps{
		Auth:       authSvc,
		Profiles:   profiles,
		Social:     social.NewService(st, blobs, log),
		Chats:      chat.NewService(st, blobs, broker, profiles, marker, log),
		Unread:     chat.NewEvaluator(st, chat.LatestOnly, nil),
		Blobs:      blobs.Handler(),
		Health:     st.Ping,
		SessionTTL: time.Hour,
		Log:        log,
	})
	return &testServer{handler: router, mailer: mailer}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

// upload sends a multipart form with one file field.
func (s *testServer) upload(t *testing.T, method, path, token string, fields map[string]string, field string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="f.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

// signUp registers a user and returns its id and session token.
func (s *testServer) signUp(t *testing.T, email, name string) (string, string) {
	t.Helper()
	rr := s.do(t, "POST", "/signup", "", signupRequest{Email: email, Password: "password123", DisplayName: name})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup %s: status %d: %s", email, rr.Code, rr.Body)
	}
	rr = s.do(t, "POST", "/login", "", credentials{Email: email, Password: "password123"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", email, rr.Code, rr.Body)
	}
	var resp struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decode(t, rr, &resp)
	return resp.User.ID, resp.Token
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rr.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("handler returned wrong status code: got %v want %v (%s)", rr.Code, want, rr.Body)
	}
}

func TestStatusOf(t *testing.T) {
	srv := newTestServer(t)
	_, token := srv.signUp(t, "a@example.com", "a")

	rr := srv.do(t, "GET", "/users/nobody", token, nil)
	expectStatus(t, rr, http.StatusNotFound)
	var body errorBody
	decode(t, rr, &body)
	if body.Code != "not_found" || body.Error == "" {
		t.Errorf("Unexpected error body %+v", body)
	}

	rr = srv.do(t, "PUT", "/me", token, `{"display_name":"x","extra":true}`)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	expectStatus(t, srv.do(t, "GET", "/healthz", "", nil), http.StatusOK)
}
