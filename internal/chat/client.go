package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a frame to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 4096                // Inbound frames are small control events.
	inboundTimeout = 5 * time.Second
)

// seenMarker is the part of the Service a connection calls for inbound events.
type seenMarker interface {
	MarkSeen(ctx context.Context, callerID, messageID int64) (*Message, error)
}

// Client is the connection handle bound in the Hub.
type Client struct {
	ID     string
	UserID int64

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	marker seenMarker
	log    *zap.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64, marker seenMarker, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.NewString()
	return &Client{
		ID:     id,
		UserID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		marker: marker,
		log:    log.With(zap.Int64("user_id", userID), zap.String("conn", id)),
	}
}

// ReadPump reads inbound events until the socket fails, then unbinds the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		c.handleInbound(raw)
	}
}

func (c *Client) handleInbound(raw []byte) {
	kind, data, err := DecodeFrame(raw)
	if err != nil {
		c.reply(ErrorEvent(err.Error()))
		return
	}

	switch kind {
	case EventMarkSeen:
		var p MarkSeenPayload
		if err := json.Unmarshal(data, &p); err != nil || p.MessageID <= 0 {
			c.reply(ErrorEvent("invalid markMessageAsSeen payload"))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
		defer cancel()
		if _, err := c.marker.MarkSeen(ctx, c.UserID, p.MessageID); err != nil {
			c.reply(ErrorEvent(publicMessage(err)))
		}
	default:
		c.reply(ErrorEvent("unsupported event " + kind.String()))
	}
}

// reply goes through the Hub so it never races with the Hub closing c.send.
func (c *Client) reply(ev Event) {
	c.hub.DeliverTo(c, ev.Encode())
}

// WritePump drains the send channel to the socket and keeps the connection alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The Hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func publicMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "message not found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidInput):
		return "invalid request"
	default:
		return "internal server error"
	}
}
