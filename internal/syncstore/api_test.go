package syncstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"dm-chat/internal/chat"

	"github.com/pkg/errors"
)

func TestHTTPClientSendsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/messages/send/7":
			var req chat.SendRequest
			json.NewDecoder(r.Body).Decode(&req)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(chat.Message{ID: 1, SenderID: 2, ReceiverID: 7, Text: &req.Text})
		case r.Method == http.MethodPatch && r.URL.Path == "/api/messages/9/seen":
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "forbidden"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "tok")
	msg, err := c.Send(context.Background(), 7, chat.SendRequest{Text: "yo"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ReceiverID != 7 || msg.Text == nil || *msg.Text != "yo" {
		t.Fatalf("unexpected message %+v", msg)
	}

	_, err = c.MarkSeen(context.Background(), 9)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden || se.Message != "forbidden" {
		t.Fatalf("expected a 403 StatusError, got %v", err)
	}
}

func TestLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "abc", "id": 5, "username": "eve"})
	}))
	defer srv.Close()

	c, res, err := Login(context.Background(), srv.URL, "eve", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if c.Token() != "abc" || res.ID != 5 {
		t.Fatalf("unexpected login result token=%q id=%d", c.Token(), res.ID)
	}
}
