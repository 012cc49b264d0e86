package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	myMiddleware "dm-chat/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Handler struct {
	hub      *Hub
	service  *Service
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler builds the REST and WebSocket handlers. An empty allowedOrigin
// accepts any origin.
func NewHandler(hub *Hub, service *Service, allowedOrigin string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		hub:     hub,
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigin),
		},
		log: log,
	}
}

func checkOrigin(allowed string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if allowed == "" {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Scheme+"://"+u.Host == allowed
	}
}

// Routes mounts the message endpoints; they expect an authenticated request.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/users", h.ListUsers)
	r.Get("/online", h.OnlineUsers)
	r.Post("/send/{userId}", h.SendMessage)
	r.Patch("/deleteChat/{userId}", h.DeleteChat)
	r.Patch("/{messageId}/seen", h.MarkSeen)
	r.Get("/{userId}", h.GetMessages)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	viewer, ok := myMiddleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	users, err := h.service.ListUsers(r.Context(), viewer)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	viewer, ok := myMiddleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	counterpart, err := pathID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	messages, err := h.service.ListMessages(r.Context(), viewer, counterpart)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	sender, ok := myMiddleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	receiver, err := pathID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.service.Send(r.Context(), sender, receiver, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	caller, ok := myMiddleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	messageID, err := pathID(r, "messageId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	msg, err := h.service.MarkSeen(r.Context(), caller, messageID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	viewer, ok := myMiddleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	counterpart, err := pathID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	n, err := h.service.DeleteChat(r.Context(), viewer, counterpart)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteChatResponse{
		Message:      "Chat deleted successfully (soft delete)",
		UpdatedCount: n,
	})
}

func (h *Handler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.OnlineUsers())
}

// ServeWs binds the authenticated user's socket in the Hub. A userId query
// parameter, when given, must name the same user as the token.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if raw := r.URL.Query().Get("userId"); raw != "" {
		if claimed, err := strconv.ParseInt(raw, 10, 64); err != nil || claimed != userID {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, userID, h.service, h.log)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidInput
	}
	return id, nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrAttachment):
		writeError(w, http.StatusBadGateway, "failed to upload image")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
