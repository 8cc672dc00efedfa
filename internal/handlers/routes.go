package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pliu/nwitter/internal/auth"
	"github.com/pliu/nwitter/internal/chat"
	"github.com/pliu/nwitter/internal/metrics"
	"github.com/pliu/nwitter/internal/middleware"
	"github.com/pliu/nwitter/internal/profile"
	"github.com/pliu/nwitter/internal/social"
	"github.com/pliu/nwitter/internal/ws"
	"go.uber.org/zap"
)

// Deps is everything the HTTP surface is built from. Blobs and StaticDir
// are optional.
type Deps struct {
	Auth         *auth.Service
	Profiles     *profile.Service
	Social       *social.Service
	Chats        *chat.Service
	Unread       *chat.Evaluator
	Hub          *ws.Hub
	Metrics      *metrics.Metrics
	Blobs        http.Handler
	Health       func(ctx context.Context) error
	SessionTTL   time.Duration
	SecureCookie bool
	RateRPS      float64
	RateBurst    int
	StaticDir    string
	Log          *zap.Logger
}

func NewRouter(d Deps) *mux.Router {
	authHandler := &AuthHandler{Auth: d.Auth, SessionTTL: d.SessionTTL, SecureCookie: d.SecureCookie, Log: d.Log}
	profileHandler := &ProfileHandler{Profiles: d.Profiles, Social: d.Social, Log: d.Log}
	postHandler := &PostHandler{Social: d.Social, Log: d.Log}
	chatHandler := &ChatHandler{Chats: d.Chats, Unread: d.Unread, Log: d.Log}

	limited := middleware.RateLimit(d.RateRPS, d.RateBurst)
	requireAuth := middleware.AuthMiddleware(d.Auth)
	authed := func(h http.HandlerFunc) http.Handler { return requireAuth(h) }

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(d.Log, d.Metrics))

	// Auth
	r.Handle("/signup", limited(http.HandlerFunc(authHandler.Signup))).Methods("POST")
	r.Handle("/login", limited(http.HandlerFunc(authHandler.Login))).Methods("POST")
	r.Handle("/password/forgot", limited(http.HandlerFunc(authHandler.ForgotPassword))).Methods("POST")
	r.Handle("/password/reset", limited(http.HandlerFunc(authHandler.ResetPassword))).Methods("POST")
	r.Handle("/logout", authed(authHandler.Logout)).Methods("POST")

	// Profiles
	r.Handle("/me", authed(profileHandler.Me)).Methods("GET")
	r.Handle("/me", authed(profileHandler.UpdateMe)).Methods("PUT")
	r.Handle("/me/avatar", authed(profileHandler.UploadAvatar)).Methods("PUT")
	r.Handle("/users/search", authed(profileHandler.SearchUsers)).Methods("GET")
	r.Handle("/users/{id}", authed(profileHandler.GetUser)).Methods("GET")
	r.Handle("/users/{id}/posts", authed(profileHandler.UserPosts)).Methods("GET")

	// Posts
	r.Handle("/posts", authed(postHandler.Timeline)).Methods("GET")
	r.Handle("/posts", authed(postHandler.CreatePost)).Methods("POST")
	r.Handle("/posts/{id}", authed(postHandler.GetPost)).Methods("GET")
	r.Handle("/posts/{id}", authed(postHandler.EditPost)).Methods("PATCH")
	r.Handle("/posts/{id}", authed(postHandler.DeletePost)).Methods("DELETE")
	r.Handle("/posts/{id}/quote", authed(postHandler.QuotePost)).Methods("POST")
	r.Handle("/posts/{id}/repost", authed(postHandler.Repost)).Methods("POST")
	r.Handle("/posts/{id}/like", authed(postHandler.Like)).Methods("POST")
	r.Handle("/posts/{id}/bookmark", authed(postHandler.Bookmark)).Methods("POST")
	r.Handle("/posts/{id}/engagement", authed(postHandler.Engagement)).Methods("GET")
	r.Handle("/bookmarks", authed(postHandler.Bookmarks)).Methods("GET")

	// Chat
	r.Handle("/chats", authed(chatHandler.StartChat)).Methods("POST")
	r.Handle("/chats", authed(chatHandler.Conversations)).Methods("GET")
	r.Handle("/chats/{id}/messages", authed(chatHandler.Messages)).Methods("GET")
	r.Handle("/chats/{id}/messages", authed(chatHandler.SendMessage)).Methods("POST")
	r.Handle("/chats/{id}/read", authed(chatHandler.MarkRead)).Methods("POST")
	r.Handle("/messages/{id}", authed(chatHandler.DeleteMessage)).Methods("DELETE")
	r.Handle("/notifications", authed(chatHandler.Notifications)).Methods("GET")

	// WebSocket Endpoint
	r.Handle("/ws", authed(func(w http.ResponseWriter, r *http.Request) {
		d.Hub.ServeWS(w, r, identity(r))
	})).Methods("GET")

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods("GET")
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			if err := d.Health(r.Context()); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("ok"))
	}).Methods("GET")

	if d.Blobs != nil {
		r.PathPrefix("/blobs/").Handler(http.StripPrefix("/blobs/", d.Blobs)).Methods("GET")
	}

	if d.StaticDir != "" {
		// Serve static files with cache-busting headers for development
		static := http.FileServer(http.Dir(d.StaticDir))
		r.PathPrefix("/").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, ".css") || strings.HasSuffix(r.URL.Path, ".js") {
				w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
				w.Header().Set("Pragma", "no-cache")
				w.Header().Set("Expires", "0")
			}
			static.ServeHTTP(w, r)
		}))
	}
	return r
}
