package chat

import (
	"encoding/json"
	"fmt"
)

// EventKind enumerates every event that travels over the push channel.
type EventKind uint8

const (
	EventOnlineUsers EventKind = iota + 1
	EventNewMessage
	EventMarkSeen
	EventMessageSeen
	EventUnseenCount
	EventError
)

var eventNames = map[EventKind]string{
	EventOnlineUsers: "getOnlineUsers",
	EventNewMessage:  "newMessage",
	EventMarkSeen:    "markMessageAsSeen",
	EventMessageSeen: "messageSeen",
	EventUnseenCount: "updateUnseenCount",
	EventError:       "error",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// ParseEventKind maps a wire name back to its kind.
func ParseEventKind(name string) (EventKind, bool) {
	for k, n := range eventNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Frame is the JSON envelope of every push message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type MessageSeenPayload struct {
	MessageID int64 `json:"messageId"`
}

// MarkSeenPayload is sent by a receiving client; SenderID is informational.
type MarkSeenPayload struct {
	MessageID int64 `json:"messageId"`
	SenderID  int64 `json:"senderId"`
}

// UnseenCountPayload tells the recipient that the counter shown for SenderID changed.
type UnseenCountPayload struct {
	SenderID    int64 `json:"senderId"`
	UnseenCount int   `json:"unseenCount"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Event is a tagged union: Kind selects the concrete Payload type.
type Event struct {
	Kind    EventKind
	Payload any
}

func OnlineUsersEvent(ids []int64) Event {
	if ids == nil {
		ids = []int64{}
	}
	return Event{Kind: EventOnlineUsers, Payload: ids}
}

func NewMessageEvent(m *Message) Event {
	return Event{Kind: EventNewMessage, Payload: m}
}

func MessageSeenEvent(messageID int64) Event {
	return Event{Kind: EventMessageSeen, Payload: MessageSeenPayload{MessageID: messageID}}
}

func MarkSeenEvent(messageID, senderID int64) Event {
	return Event{Kind: EventMarkSeen, Payload: MarkSeenPayload{MessageID: messageID, SenderID: senderID}}
}

func UnseenCountEvent(senderID int64, count int) Event {
	return Event{Kind: EventUnseenCount, Payload: UnseenCountPayload{SenderID: senderID, UnseenCount: count}}
}

func ErrorEvent(msg string) Event {
	return Event{Kind: EventError, Payload: ErrorPayload{Message: msg}}
}

// Encode renders the event as a wire frame.
// An event kind outside the vocabulary is a programming error and panics.
func (e Event) Encode() []byte {
	name, ok := eventNames[e.Kind]
	if !ok {
		panic(fmt.Sprintf("chat: unknown event kind %d", uint8(e.Kind)))
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		panic(fmt.Sprintf("chat: encode %s payload: %v", name, err))
	}
	frame, err := json.Marshal(Frame{Event: name, Data: data})
	if err != nil {
		panic(fmt.Sprintf("chat: encode %s frame: %v", name, err))
	}
	return frame
}

// DecodeFrame parses a wire frame and resolves its kind.
func DecodeFrame(raw []byte) (EventKind, json.RawMessage, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, nil, fmt.Errorf("decode frame: %w", err)
	}
	kind, ok := ParseEventKind(f.Event)
	if !ok {
		return 0, nil, fmt.Errorf("unknown event %q", f.Event)
	}
	return kind, f.Data, nil
}
