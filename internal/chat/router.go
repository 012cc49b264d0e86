package chat

import (
	"context"

	"go.uber.org/zap"
)

// PresenceChecker answers whether a user is bound on another instance.
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

// Router delivers push events to bound connections. Delivery is fire-and-forget:
// an absent recipient or a full buffer drops the event.
type Router struct {
	hub      *Hub
	presence PresenceChecker
	log      *zap.Logger
}

func NewRouter(hub *Hub, presence PresenceChecker, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{hub: hub, presence: presence, log: log}
}

func (r *Router) Notify(userID int64, ev Event) {
	r.hub.Deliver(userID, ev.Encode())
}

// Online checks the local registry first, then the shared presence mirror.
func (r *Router) Online(ctx context.Context, userID int64) bool {
	if r.hub.Online(userID) {
		return true
	}
	if r.presence == nil {
		return false
	}
	ok, err := r.presence.IsOnline(ctx, userID)
	if err != nil {
		r.log.Warn("presence lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return false
	}
	return ok
}

func (r *Router) OnlineUsers() []int64 {
	return r.hub.OnlineUsers()
}
