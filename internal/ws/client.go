package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pliu/nwitter/internal/apperr"
	"github.com/pliu/nwitter/internal/chat"
	"github.com/pliu/nwitter/internal/models"
	"github.com/pliu/nwitter/internal/session"
	"github.com/pliu/nwitter/internal/store"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
)

// Frame types sent by clients.
const (
	FrameOpen  = "open"
	FrameClose = "close"
	FrameSend  = "send"
)

// Frame types sent by the server.
const (
	FrameNotification  = "notification"
	FrameConversations = "conversations"
	FrameMessages      = "messages"
	FrameError         = "error"
)

// Inbound is a frame received from a client.
type Inbound struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Body           string `json:"body,omitempty"`
}

// Outbound is a frame sent to a client. Only the fields of its type are
// set.
type Outbound struct {
	Type           string              `json:"type"`
	Status         *chat.Status        `json:"status,omitempty"`
	Conversations  []chat.Conversation `json:"conversations,omitempty"`
	ConversationID string              `json:"conversation_id,omitempty"`
	Messages       []models.Message    `json:"messages,omitempty"`
	Error          string              `json:"error,omitempty"`
	Code           string              `json:"code,omitempty"`
}

// Client is one websocket connection. Its run goroutine owns all of its
// state; the pumps only move frames between the socket and run.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *session.Session
	viewer  string

	ctx    context.Context
	cancel context.CancelFunc
	in     chan Inbound
	send   chan []byte

	openID string
	open   *store.Subscription[[]models.Message]
}

func newClient(h *Hub, conn *websocket.Conn, sess *session.Session) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:     h,
		conn:    conn,
		session: sess,
		viewer:  sess.Identity.UserID,
		ctx:     ctx,
		cancel:  cancel,
		in:      make(chan Inbound),
		send:    make(chan []byte, 16),
	}
}

// decodeFrame parses a client frame, rejecting unknown fields and types.
func decodeFrame(data []byte) (Inbound, error) {
	var f Inbound
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return f, apperr.E(apperr.Invalid, "ws.decodeFrame", err)
	}
	switch f.Type {
	case FrameOpen, FrameSend:
		if f.ConversationID == "" {
			return f, apperr.Errorf(apperr.Invalid, "ws.decodeFrame", "%s frame needs a conversation_id", f.Type)
		}
	case FrameClose:
	default:
		return f, apperr.Errorf(apperr.Invalid, "ws.decodeFrame", "unknown frame type %q", f.Type)
	}
	return f, nil
}

func (c *Client) readPump() {
	defer c.cancel()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		f, err := decodeFrame(data)
		if err != nil {
			f = Inbound{Type: FrameError, Body: err.Error()}
		}
		select {
		case c.in <- f:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// run serves the connection until it is closed, the session ends or the
// hub shuts down.
func (c *Client) run() {
	defer func() {
		c.closeConversation()
		c.hub.remove(c)
		c.hub.sessions.Release(c.session)
		close(c.send)
	}()

	updates, unsubscribe := c.session.Aggregator.Subscribe()
	defer unsubscribe()
	convs := c.hub.chats.WatchConversations(c.ctx, c.viewer)
	defer convs.Close()
	listings := convs.C()
	for {
		var snapshots <-chan store.Snapshot[[]models.Message]
		if c.open != nil {
			snapshots = c.open.C()
		}

		select {
		case <-c.ctx.Done():
			return
		case status, ok := <-updates:
			if !ok {
				c.push(Outbound{Type: FrameError, Error: "session ended", Code: "unauthorized"})
				return
			}
			c.push(Outbound{Type: FrameNotification, Status: &status})
		case snap, ok := <-listings:
			if !ok {
				listings = nil
				continue
			}
			if snap.Err != nil {
				c.pushError(snap.Err)
				continue
			}
			c.push(Outbound{Type: FrameConversations, Conversations: snap.Value})
		case snap, ok := <-snapshots:
			if !ok {
				c.open, c.openID = nil, ""
				continue
			}
			c.onSnapshot(snap)
		case f := <-c.in:
			c.handle(f)
		}
	}
}

func (c *Client) handle(f Inbound) {
	switch f.Type {
	case FrameError:
		c.push(Outbound{Type: FrameError, Error: f.Body, Code: "invalid"})
	case FrameOpen:
		c.closeConversation()
		sub, err := c.hub.chats.WatchConversation(c.ctx, c.viewer, f.ConversationID)
		if err != nil {
			c.pushError(err)
			return
		}
		c.open, c.openID = sub, f.ConversationID
	case FrameClose:
		c.closeConversation()
	case FrameSend:
		if _, err := c.hub.chats.SendMessage(c.ctx, c.viewer, f.ConversationID, f.Body, nil); err != nil {
			c.pushError(err)
		}
	}
}

// onSnapshot forwards the open conversation and marks it read, as the
// viewer is looking at it.
func (c *Client) onSnapshot(snap store.Snapshot[[]models.Message]) {
	if snap.Err != nil {
		c.pushError(snap.Err)
		return
	}
	c.push(Outbound{Type: FrameMessages, ConversationID: c.openID, Messages: snap.Value})
	if !chat.HasUnread(c.viewer, snap.Value) {
		return
	}
	if _, err := c.hub.chats.MarkRead(c.ctx, c.viewer, c.openID); err != nil {
		c.pushError(err)
	}
}

func (c *Client) closeConversation() {
	if c.open != nil {
		c.open.Close()
		c.open, c.openID = nil, ""
	}
}

func (c *Client) pushError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	var warning *chat.MarkWarning
	code := apperr.KindOf(err).String()
	if errors.As(err, &warning) {
		code = "mark_warning"
	}
	c.hub.log.Debug("websocket error frame", zap.String("user_id", c.viewer), zap.Error(err))
	c.push(Outbound{Type: FrameError, Error: err.Error(), Code: code})
}

func (c *Client) push(f Outbound) {
	data, err := json.Marshal(f)
	if err != nil {
		c.hub.log.Error("encode frame", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

