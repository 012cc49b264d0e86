package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

const frameTimeout = 2 * time.Second

func startHub(t *testing.T) *Hub {
	t.Helper()
	return startHubWith(t, NewHub(nil))
}

func startHubWith(t *testing.T, hub *Hub) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

// newTestClient returns a handle with no socket behind it.
func newTestClient(hub *Hub, userID int64) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		hub:    hub,
		send:   make(chan []byte, sendBufferSize),
	}
}

// connect binds a test client and waits until the Hub has applied the bind.
func connect(t *testing.T, hub *Hub, userID int64) *Client {
	t.Helper()
	c := newTestClient(hub, userID)
	hub.Register(c)
	hub.OnlineUsers()
	return c
}

type received struct {
	kind EventKind
	data json.RawMessage
}

func recvFrame(t *testing.T, c *Client) received {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if !ok {
			t.Fatalf("send channel of user %d closed", c.UserID)
		}
		kind, data, err := DecodeFrame(raw)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		return received{kind: kind, data: data}
	case <-time.After(frameTimeout):
		t.Fatalf("timed out waiting for a frame for user %d", c.UserID)
	}
	return received{}
}

// flush returns every frame queued for c before now, in order. It pushes a
// marker through the Hub's delivery queue, which is FIFO.
func flush(t *testing.T, hub *Hub, c *Client) []received {
	t.Helper()
	hub.DeliverLocal(c.UserID, ErrorEvent("flush-marker").Encode())
	var out []received
	for {
		r := recvFrame(t, c)
		if r.kind == EventError {
			var p ErrorPayload
			if err := json.Unmarshal(r.data, &p); err == nil && p.Message == "flush-marker" {
				return out
			}
		}
		out = append(out, r)
	}
}

// only keeps frames of the given kinds.
func only(frames []received, kinds ...EventKind) []received {
	var out []received
	for _, f := range frames {
		for _, k := range kinds {
			if f.kind == k {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func decode[T any](t *testing.T, r received) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(r.data, &v); err != nil {
		t.Fatalf("decode %s: %v", r.kind, err)
	}
	return v
}

func ptr(s string) *string { return &s }
