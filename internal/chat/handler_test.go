package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	myMiddleware "dm-chat/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// testIdentity stands in for the JWT middleware: X-User carries the caller id.
func testIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get("X-User"), 10, 64)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(myMiddleware.WithUser(r.Context(), id, "")))
	})
}

func newTestRouter(t *testing.T) (http.Handler, *memStore) {
	t.Helper()
	svc, store, hub := newTestService(t)
	h := NewHandler(hub, svc, "", nil)

	r := chi.NewRouter()
	r.Use(testIdentity)
	r.Route("/api/messages", h.Routes)
	r.Get("/ws", h.ServeWs)
	return r, store
}

func do(t *testing.T, h http.Handler, method, path string, caller int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User", strconv.FormatInt(caller, 10))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMessageEndpoints(t *testing.T) {
	h, store := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/messages/send/2", alice, SendRequest{Text: "hello"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sent Message
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode sent message: %v", err)
	}
	if sent.SenderID != alice || sent.ReceiverID != bob || sent.Seen {
		t.Fatalf("unexpected message %+v", sent)
	}

	rec = do(t, h, http.MethodGet, "/api/messages/users", bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("users: expected 200, got %d", rec.Code)
	}
	var users []UserSummary
	json.Unmarshal(rec.Body.Bytes(), &users)
	if len(users) != 2 || users[0].ID != alice || users[0].UnseenCount != 1 {
		t.Fatalf("unexpected user list %+v", users)
	}

	rec = do(t, h, http.MethodGet, "/api/messages/1", bob, nil)
	var list []Message
	json.Unmarshal(rec.Body.Bytes(), &list)
	if rec.Code != http.StatusOK || len(list) != 1 || list[0].ID != sent.ID {
		t.Fatalf("conversation: got %d %s", rec.Code, rec.Body.String())
	}

	seenPath := "/api/messages/" + strconv.FormatInt(sent.ID, 10) + "/seen"
	if rec = do(t, h, http.MethodPatch, seenPath, alice, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("seen by sender: expected 403, got %d", rec.Code)
	}
	if rec = do(t, h, http.MethodPatch, seenPath, bob, nil); rec.Code != http.StatusOK {
		t.Fatalf("seen: expected 200, got %d", rec.Code)
	}
	if !store.stored(sent.ID).Seen {
		t.Fatalf("message not marked seen")
	}

	rec = do(t, h, http.MethodPatch, "/api/messages/deleteChat/2", alice, nil)
	var del DeleteChatResponse
	json.Unmarshal(rec.Body.Bytes(), &del)
	if rec.Code != http.StatusOK || del.UpdatedCount != 1 {
		t.Fatalf("deleteChat: got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMessageEndpointErrors(t *testing.T) {
	h, _ := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad receiver id", http.MethodPost, "/api/messages/send/abc", SendRequest{Text: "x"}, http.StatusBadRequest},
		{"empty message", http.MethodPost, "/api/messages/send/2", SendRequest{}, http.StatusBadRequest},
		{"unknown receiver", http.MethodPost, "/api/messages/send/99", SendRequest{Text: "x"}, http.StatusNotFound},
		{"unknown message", http.MethodPatch, "/api/messages/77/seen", nil, http.StatusNotFound},
		{"bad message id", http.MethodPatch, "/api/messages/-1/seen", nil, http.StatusBadRequest},
		{"delete with self", http.MethodPatch, "/api/messages/deleteChat/1", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, tt.method, tt.path, alice, tt.body); rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func dialWs(t *testing.T, srv *httptest.Server, user int64, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	header := http.Header{"X-User": []string{strconv.FormatInt(user, 10)}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial as %d: %v", user, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the first frame of the wanted kind.
func readUntil(t *testing.T, conn *websocket.Conn, want EventKind) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(frameTimeout))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		kind, data, err := DecodeFrame(raw)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if kind == want {
			return data
		}
	}
}

func TestWebSocketSeenRoundTrip(t *testing.T) {
	h, store := newTestRouter(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	a := dialWs(t, srv, alice, "?userId=1")
	var online []int64
	json.Unmarshal(readUntil(t, a, EventOnlineUsers), &online)
	if len(online) != 1 || online[0] != alice {
		t.Fatalf("expected [1] online, got %v", online)
	}

	b := dialWs(t, srv, bob, "")
	readUntil(t, b, EventOnlineUsers)

	rec := do(t, h, http.MethodPost, "/api/messages/send/2", alice, SendRequest{Text: "ping"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: %d", rec.Code)
	}
	var incoming Message
	json.Unmarshal(readUntil(t, b, EventNewMessage), &incoming)
	if incoming.Text == nil || *incoming.Text != "ping" {
		t.Fatalf("unexpected newMessage %+v", incoming)
	}
	var count UnseenCountPayload
	json.Unmarshal(readUntil(t, b, EventUnseenCount), &count)
	if count != (UnseenCountPayload{SenderID: alice, UnseenCount: 1}) {
		t.Fatalf("unexpected counter %+v", count)
	}

	if err := b.WriteMessage(websocket.TextMessage, MarkSeenEvent(incoming.ID, alice).Encode()); err != nil {
		t.Fatalf("write markMessageAsSeen: %v", err)
	}
	var seen MessageSeenPayload
	json.Unmarshal(readUntil(t, a, EventMessageSeen), &seen)
	if seen.MessageID != incoming.ID {
		t.Fatalf("expected messageSeen{%d}, got %+v", incoming.ID, seen)
	}
	json.Unmarshal(readUntil(t, a, EventUnseenCount), &count)
	if count != (UnseenCountPayload{SenderID: bob, UnseenCount: 0}) {
		t.Fatalf("unexpected counter %+v", count)
	}
	if !store.stored(incoming.ID).Seen {
		t.Fatalf("message not persisted as seen")
	}

	if err := b.WriteMessage(websocket.TextMessage, []byte(`{"event":"typing","data":{}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errFrame ErrorPayload
	json.Unmarshal(readUntil(t, b, EventError), &errFrame)
	if errFrame.Message == "" {
		t.Fatalf("expected an error frame for an unknown event")
	}
}

func TestWebSocketRejectsMismatchedUserID(t *testing.T) {
	h, _ := newTestRouter(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?userId=2"
	header := http.Header{"X-User": []string{"1"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}
