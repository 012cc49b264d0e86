package chat

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

const sendBufferSize = 256

// Forwarder receives what the Hub cannot serve locally. Implementations
// must not block: the Hub calls them from its run loop.
type Forwarder interface {
	Forward(userID int64, frame []byte)
	Bound(userID int64)
	Unbound(userID int64)
}

type delivery struct {
	userID int64
	frame  []byte
	// forward frames that miss locally; false for frames that already came off the relay.
	forward bool
	// when set, only this handle may receive the frame
	client *Client
}

type lookupRequest struct {
	userID int64
	reply  chan bool
}

// Hub is the connection registry. Run owns the clients map; every other
// method talks to it over channels, so binds and unbinds are applied one
// at a time and a user's bind/unbind sequence is never reordered.
type Hub struct {
	clients map[int64]*Client

	register   chan *Client
	unregister chan *Client
	deliver    chan delivery
	lookup     chan lookupRequest
	online     chan chan []int64
	done       chan struct{}

	forwarder Forwarder
	log       *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[int64]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, sendBufferSize),
		lookup:     make(chan lookupRequest),
		online:     make(chan chan []int64),
		done:       make(chan struct{}),
		log:        log,
	}
}

// SetForwarder must be called before Run.
func (h *Hub) SetForwarder(f Forwarder) {
	h.forwarder = f
}

// Run processes registry requests until ctx is cancelled, then closes every bound client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for id, c := range h.clients {
			close(c.send)
			delete(h.clients, id)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.bind(c)

		case c := <-h.unregister:
			h.unbind(c)

		case d := <-h.deliver:
			h.push(d)

		case req := <-h.lookup:
			_, ok := h.clients[req.userID]
			req.reply <- ok

		case reply := <-h.online:
			reply <- h.onlineIDs()
		}
	}
}

// Register binds c to its user, replacing any previous binding.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

// Unregister removes c's binding if c is still the bound handle for its user.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Deliver queues frame for userID's connection. It never waits on the socket.
func (h *Hub) Deliver(userID int64, frame []byte) {
	h.enqueue(delivery{userID: userID, frame: frame, forward: true})
}

// DeliverLocal is Deliver without forwarding on a local miss.
func (h *Hub) DeliverLocal(userID int64, frame []byte) {
	h.enqueue(delivery{userID: userID, frame: frame})
}

// DeliverTo queues frame for c only. It is dropped if c is no longer bound.
func (h *Hub) DeliverTo(c *Client, frame []byte) {
	h.enqueue(delivery{userID: c.UserID, frame: frame, client: c})
}

func (h *Hub) enqueue(d delivery) {
	select {
	case h.deliver <- d:
	case <-h.done:
	}
}

// Online reports whether userID is bound on this instance.
func (h *Hub) Online(userID int64) bool {
	reply := make(chan bool, 1)
	select {
	case h.lookup <- lookupRequest{userID: userID, reply: reply}:
		return <-reply
	case <-h.done:
		return false
	}
}

// OnlineUsers returns the ids bound on this instance in ascending order.
func (h *Hub) OnlineUsers() []int64 {
	reply := make(chan []int64, 1)
	select {
	case h.online <- reply:
		return <-reply
	case <-h.done:
		return []int64{}
	}
}

func (h *Hub) bind(c *Client) {
	if old, ok := h.clients[c.UserID]; ok && old != c {
		// Only one connection per user; the displaced socket gets a close frame.
		close(old.send)
		h.log.Info("connection replaced",
			zap.Int64("user_id", c.UserID),
			zap.String("old_conn", old.ID),
			zap.String("new_conn", c.ID))
	}
	h.clients[c.UserID] = c
	if h.forwarder != nil {
		h.forwarder.Bound(c.UserID)
	}
	h.log.Debug("connection bound", zap.Int64("user_id", c.UserID), zap.String("conn", c.ID))
	h.broadcastPresence()
}

func (h *Hub) unbind(c *Client) {
	if cur, ok := h.clients[c.UserID]; ok && cur == c {
		delete(h.clients, c.UserID)
		close(c.send)
		if h.forwarder != nil {
			h.forwarder.Unbound(c.UserID)
		}
		h.log.Debug("connection unbound", zap.Int64("user_id", c.UserID), zap.String("conn", c.ID))
	}
	h.broadcastPresence()
}

func (h *Hub) push(d delivery) {
	c, ok := h.clients[d.userID]
	if d.client != nil && c != d.client {
		h.log.Debug("push dropped: connection replaced", zap.Int64("user_id", d.userID), zap.String("conn", d.client.ID))
		return
	}
	if !ok {
		if d.forward && h.forwarder != nil {
			h.forwarder.Forward(d.userID, d.frame)
			return
		}
		h.log.Debug("push dropped: recipient offline", zap.Int64("user_id", d.userID))
		return
	}
	h.trySend(c, d.frame)
}

func (h *Hub) broadcastPresence() {
	frame := OnlineUsersEvent(h.onlineIDs()).Encode()
	for _, c := range h.clients {
		h.trySend(c, frame)
	}
}

func (h *Hub) trySend(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.log.Debug("push dropped: send buffer full", zap.Int64("user_id", c.UserID), zap.String("conn", c.ID))
	}
}

func (h *Hub) onlineIDs() []int64 {
	ids := make([]int64, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
