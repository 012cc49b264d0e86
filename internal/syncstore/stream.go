package syncstore

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"dm-chat/internal/chat"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const markTimeout = 10 * time.Second

// Stream connects to the push endpoint at wsURL and applies every frame to
// the Store until ctx is cancelled or the connection drops. After the
// handshake it re-pulls the user list and the open conversation, since
// pushes sent while disconnected are lost. Messages that arrive for the open
// conversation are marked seen as they come in.
func (s *Store) Stream(ctx context.Context, wsURL, token string) error {
	u, err := url.Parse(wsURL)
	if err != nil {
		return errors.Wrap(err, "parse push url")
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("userId", strconv.FormatInt(s.self, 10))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "dial push endpoint")
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := s.Resync(ctx); err != nil {
		s.log.Warn("resync after connect failed", zap.Error(err))
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read push frame")
		}

		kind, err := s.Apply(raw)
		if err != nil {
			s.log.Warn("push frame ignored", zap.Error(err))
			continue
		}
		if kind == chat.EventNewMessage {
			mctx, cancel := context.WithTimeout(ctx, markTimeout)
			if err := s.MarkVisibleSeen(mctx); err != nil {
				s.log.Warn("mark seen failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Resync re-pulls the user list and, if one is open, the active conversation.
func (s *Store) Resync(ctx context.Context) error {
	if err := s.LoadUsers(ctx); err != nil {
		return err
	}
	if active := s.Active(); active != 0 {
		return s.OpenConversation(ctx, active)
	}
	return nil
}
