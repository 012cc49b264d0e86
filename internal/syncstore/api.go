package syncstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dm-chat/internal/chat"
	"dm-chat/internal/user"

	"github.com/pkg/errors"
)

// API is the pull side of the message store as seen by one signed-in user.
type API interface {
	ListUsers(ctx context.Context) ([]chat.UserSummary, error)
	ListMessages(ctx context.Context, counterpart int64) ([]chat.Message, error)
	Send(ctx context.Context, receiver int64, req chat.SendRequest) (*chat.Message, error)
	MarkSeen(ctx context.Context, messageID int64) (*chat.Message, error)
	DeleteChat(ctx context.Context, counterpart int64) (int64, error)
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// HTTPClient talks to the REST endpoints with a bearer token.
type HTTPClient struct {
	baseURL string
	token   string
	hc      *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: 15 * time.Second},
	}
}

// Token returns the bearer token the client authenticates with.
func (c *HTTPClient) Token() string { return c.token }

// Register creates an account. A taken username is reported as a *StatusError with code 409.
func Register(ctx context.Context, baseURL string, req user.RegisterRequest) (*user.User, error) {
	c := NewHTTPClient(baseURL, "")
	var u user.User
	if err := c.do(ctx, http.MethodPost, "/register", req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Login exchanges credentials for a token and returns a client bound to it.
func Login(ctx context.Context, baseURL, username, password string) (*HTTPClient, *user.LoginResponse, error) {
	c := NewHTTPClient(baseURL, "")
	var res user.LoginResponse
	req := user.RegisterRequest{Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, "/login", req, &res); err != nil {
		return nil, nil, err
	}
	c.token = res.AccessToken
	return c, &res, nil
}

func (c *HTTPClient) ListUsers(ctx context.Context) ([]chat.UserSummary, error) {
	var users []chat.UserSummary
	if err := c.do(ctx, http.MethodGet, "/api/messages/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *HTTPClient) ListMessages(ctx context.Context, counterpart int64) ([]chat.Message, error) {
	var messages []chat.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages/"+strconv.FormatInt(counterpart, 10), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *HTTPClient) Send(ctx context.Context, receiver int64, req chat.SendRequest) (*chat.Message, error) {
	var msg chat.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages/send/"+strconv.FormatInt(receiver, 10), req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *HTTPClient) MarkSeen(ctx context.Context, messageID int64) (*chat.Message, error) {
	var msg chat.Message
	if err := c.do(ctx, http.MethodPatch, "/api/messages/"+strconv.FormatInt(messageID, 10)+"/seen", nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *HTTPClient) DeleteChat(ctx context.Context, counterpart int64) (int64, error) {
	var res chat.DeleteChatResponse
	if err := c.do(ctx, http.MethodPatch, "/api/messages/deleteChat/"+strconv.FormatInt(counterpart, 10), nil, &res); err != nil {
		return 0, err
	}
	return res.UpdatedCount, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return errors.Wrap(err, "encode request")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}
