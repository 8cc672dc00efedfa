package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/pliu/nwitter/internal/middleware"
)

func TestSignup(t *testing.T) {
	srv := newTestServer(t)

	req := signupRequest{Email: "testuser@example.com", Password: "password123", DisplayName: "tester"}
	expectStatus(t, srv.do(t, "POST", "/signup", "", req), http.StatusCreated)

	// Test duplicate user
	expectStatus(t, srv.do(t, "POST", "/signup", "", req), http.StatusConflict)

	req.Email, req.Password = "short@example.com", "abc"
	expectStatus(t, srv.do(t, "POST", "/signup", "", req), http.StatusBadRequest)
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t)
	expectStatus(t, srv.do(t, "POST", "/signup", "", signupRequest{
		Email: "testuser@example.com", Password: "password123", DisplayName: "tester",
	}), http.StatusCreated)

	rr := srv.do(t, "POST", "/login", "", credentials{Email: "testuser@example.com", Password: "password123"})
	expectStatus(t, rr, http.StatusOK)

	var session *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			session = c
		}
	}
	if session == nil || session.Value == "" || !session.HttpOnly {
		t.Fatalf("Expected an http-only session cookie, got %+v", session)
	}

	req := httptest.NewRequest("GET", "/me", nil)
	req.AddCookie(session)
	rr = httptest.NewRecorder()
	srv.handler.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusOK)
	var me struct {
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	}
	decode(t, rr, &me)
	if me.DisplayName != "tester" || me.Email != "testuser@example.com" {
		t.Errorf("Unexpected /me %+v", me)
	}

	rr = srv.do(t, "POST", "/login", "", credentials{Email: "testuser@example.com", Password: "wrongpass"})
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestLogout(t *testing.T) {
	srv := newTestServer(t)
	_, token := srv.signUp(t, "a@example.com", "a")

	expectStatus(t, srv.do(t, "GET", "/me", token, nil), http.StatusOK)
	expectStatus(t, srv.do(t, "POST", "/logout", token, nil), http.StatusNoContent)
	expectStatus(t, srv.do(t, "GET", "/me", token, nil), http.StatusUnauthorized)
}

func TestPasswordReset(t *testing.T) {
	srv := newTestServer(t)
	srv.signUp(t, "a@example.com", "a")

	expectStatus(t, srv.do(t, "POST", "/password/forgot", "", map[string]string{"email": "nobody@example.com"}), http.StatusAccepted)
	if len(srv.mailer.links) != 0 {
		t.Fatalf("Expected no mail for unknown address, got %v", srv.mailer.links)
	}

	expectStatus(t, srv.do(t, "POST", "/password/forgot", "", map[string]string{"email": "a@example.com"}), http.StatusAccepted)
	if len(srv.mailer.links) != 1 {
		t.Fatalf("Expected one reset mail, got %d", len(srv.mailer.links))
	}
	link, err := url.Parse(srv.mailer.links[0])
	if err != nil {
		t.Fatal(err)
	}
	token := link.Query().Get("token")

	reset := map[string]string{"token": token, "password": "newpassword"}
	expectStatus(t, srv.do(t, "POST", "/password/reset", "", reset), http.StatusNoContent)
	expectStatus(t, srv.do(t, "POST", "/password/reset", "", reset), http.StatusForbidden)

	expectStatus(t, srv.do(t, "POST", "/login", "", credentials{Email: "a@example.com", Password: "newpassword"}), http.StatusOK)
	expectStatus(t, srv.do(t, "POST", "/login", "", credentials{Email: "a@example.com", Password: "password123"}), http.StatusUnauthorized)
}
