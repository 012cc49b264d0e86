package chat

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	relayBufferSize   = 1024
	presenceTTL       = 2 * time.Minute
	presenceRefresh   = presenceTTL / 2
	presenceKeyPrefix = "dm:presence:"
)

// Deletes the presence key only when this node still owns it.
var releasePresence = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type relayEnvelope struct {
	Origin string          `json:"origin"`
	Target int64           `json:"target"`
	Frame  json.RawMessage `json:"frame"`
}

type relayOp struct {
	kind   byte // 'f' forward, 'b' bound, 'u' unbound
	userID int64
	frame  []byte
}

// Relay lets several server instances share one user base. Frames whose
// target is not bound locally are published on a Redis channel and each
// other instance delivers them if it holds the binding. Presence is mirrored
// in per-user keys owned by the instance holding the connection.
type Relay struct {
	rdb     *redis.Client
	channel string
	nodeID  string
	hub     *Hub
	ops     chan relayOp
	log     *zap.Logger
}

func NewRelay(rdb *redis.Client, channel, nodeID string, hub *Hub, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		rdb:     rdb,
		channel: channel,
		nodeID:  nodeID,
		hub:     hub,
		ops:     make(chan relayOp, relayBufferSize),
		log:     log,
	}
}

func presenceKey(userID int64) string {
	return presenceKeyPrefix + strconv.FormatInt(userID, 10)
}

func (r *Relay) Forward(userID int64, frame []byte) {
	r.enqueue(relayOp{kind: 'f', userID: userID, frame: frame})
}

func (r *Relay) Bound(userID int64) {
	r.enqueue(relayOp{kind: 'b', userID: userID})
}

func (r *Relay) Unbound(userID int64) {
	r.enqueue(relayOp{kind: 'u', userID: userID})
}

func (r *Relay) enqueue(op relayOp) {
	select {
	case r.ops <- op:
	default:
		r.log.Warn("relay buffer full, dropping", zap.Int64("user_id", op.userID))
	}
}

func (r *Relay) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := r.rdb.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Run publishes queued operations and refreshes presence keys until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(presenceRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-r.ops:
			r.apply(ctx, op)
		case <-ticker.C:
			r.refreshPresence(ctx)
		}
	}
}

func (r *Relay) apply(ctx context.Context, op relayOp) {
	var err error
	switch op.kind {
	case 'f':
		var payload []byte
		payload, err = json.Marshal(relayEnvelope{Origin: r.nodeID, Target: op.userID, Frame: op.frame})
		if err == nil {
			err = r.rdb.Publish(ctx, r.channel, payload).Err()
		}
	case 'b':
		err = r.rdb.Set(ctx, presenceKey(op.userID), r.nodeID, presenceTTL).Err()
	case 'u':
		err = releasePresence.Run(ctx, r.rdb, []string{presenceKey(op.userID)}, r.nodeID).Err()
	}
	if err != nil {
		r.log.Warn("relay operation failed", zap.String("op", string(op.kind)), zap.Int64("user_id", op.userID), zap.Error(err))
	}
}

func (r *Relay) refreshPresence(ctx context.Context) {
	ids := r.hub.OnlineUsers()
	if len(ids) == 0 {
		return
	}
	pipe := r.rdb.Pipeline()
	for _, id := range ids {
		pipe.Set(ctx, presenceKey(id), r.nodeID, presenceTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("presence refresh failed", zap.Error(err))
	}
}

// Subscribe delivers frames published by other instances until ctx is done.
func (r *Relay) Subscribe(ctx context.Context) {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

func (r *Relay) handle(payload []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.log.Warn("relay envelope malformed", zap.Error(err))
		return
	}
	if env.Origin == r.nodeID || env.Target <= 0 {
		return
	}
	r.hub.DeliverLocal(env.Target, env.Frame)
}
