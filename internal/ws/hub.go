package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pliu/nwitter/internal/auth"
	"github.com/pliu/nwitter/internal/chat"
	"github.com/pliu/nwitter/internal/session"
	"go.uber.org/zap"
)

type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	count chan chan int
	done  chan struct{}

	chats    *chat.Service
	sessions *session.Manager
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewHub(chats *chat.Service, sessions *session.Manager, log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		chats:      chats,
		sessions:   sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

// Run tracks connected clients until ctx is done, then disconnects them
// all. Clients connecting afterwards are refused.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			client.cancel()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.cancel()
			}
		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// ServeWS upgrades the request and serves the viewer's session on it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	sess, err := h.sessions.Acquire(id)
	if err != nil {
		h.log.Error("session start failed", zap.Error(err))
		conn.Close()
		return
	}

	client := newClient(h, conn, sess)
	select {
	case h.register <- client:
	case <-h.done:
		h.sessions.Release(sess)
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
	go client.run()
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
