package chat

import "context"

type unseenCounter interface {
	CountUnseen(ctx context.Context, viewer, counterpart int64) (int, error)
}

// Aggregator recomputes unseen counters from the store. Nothing is cached here.
type Aggregator struct {
	store  unseenCounter
	router *Router
}

func NewAggregator(store unseenCounter, router *Router) *Aggregator {
	return &Aggregator{store: store, router: router}
}

// Recompute returns the number of messages from counterpart to viewer that
// viewer has neither seen nor soft-deleted.
func (a *Aggregator) Recompute(ctx context.Context, viewer, counterpart int64) (int, error) {
	return a.store.CountUnseen(ctx, viewer, counterpart)
}

// PushTo recomputes UnseenCounter(viewer, counterpart) and sends it to target,
// which must be one of the pair. The payload's senderId names the other member
// of the pair from target's point of view.
func (a *Aggregator) PushTo(ctx context.Context, target, viewer, counterpart int64) (int, error) {
	count, err := a.Recompute(ctx, viewer, counterpart)
	if err != nil {
		return 0, err
	}
	key := viewer
	if target == viewer {
		key = counterpart
	}
	a.router.Notify(target, UnseenCountEvent(key, count))
	return count, nil
}
