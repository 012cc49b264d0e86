package chat

import (
	"encoding/json"
	"testing"
)

func envelope(t *testing.T, origin string, target int64, ev Event) []byte {
	t.Helper()
	raw, err := json.Marshal(relayEnvelope{Origin: origin, Target: target, Frame: ev.Encode()})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestRelayDeliversFramesFromOtherInstances(t *testing.T) {
	hub := startHub(t)
	relay := NewRelay(nil, "dm:events", "node-a", hub, nil)
	c := connect(t, hub, bob)

	relay.handle(envelope(t, "node-b", bob, MessageSeenEvent(11)))
	relay.handle(envelope(t, "node-a", bob, MessageSeenEvent(12)))
	relay.handle(envelope(t, "node-b", carol, MessageSeenEvent(13)))
	relay.handle([]byte("{broken"))

	frames := only(flush(t, hub, c), EventMessageSeen)
	if len(frames) != 1 {
		t.Fatalf("expected exactly one relayed frame, got %d", len(frames))
	}
	if got := decode[MessageSeenPayload](t, frames[0]).MessageID; got != 11 {
		t.Fatalf("expected message 11, got %d", got)
	}
}

func TestRelayQueuesHubCallbacksWithoutBlocking(t *testing.T) {
	relay := NewRelay(nil, "dm:events", "node-a", nil, nil)

	relay.Bound(1)
	relay.Forward(2, []byte("frame"))
	relay.Unbound(1)

	want := []relayOp{
		{kind: 'b', userID: 1},
		{kind: 'f', userID: 2, frame: []byte("frame")},
		{kind: 'u', userID: 1},
	}
	for i, w := range want {
		got := <-relay.ops
		if got.kind != w.kind || got.userID != w.userID || string(got.frame) != string(w.frame) {
			t.Fatalf("op %d: expected %+v, got %+v", i, w, got)
		}
	}

	for i := 0; i < relayBufferSize+10; i++ {
		relay.Forward(3, nil)
	}
	if len(relay.ops) != relayBufferSize {
		t.Fatalf("expected a full buffer of %d, got %d", relayBufferSize, len(relay.ops))
	}
}

func TestPresenceKey(t *testing.T) {
	if got := presenceKey(42); got != "dm:presence:42" {
		t.Fatalf("presenceKey(42) = %q", got)
	}
}
