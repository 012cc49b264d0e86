package chat

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Store is the persisted source of truth for messages.
type Store interface {
	Create(ctx context.Context, senderID, receiverID int64, text, image *string) (*Message, error)
	GetMessage(ctx context.Context, messageID int64) (*Message, error)
	ListConversation(ctx context.Context, viewer, counterpart int64) ([]Message, error)
	CountUnseen(ctx context.Context, viewer, counterpart int64) (int, error)
	MarkSeen(ctx context.Context, messageID int64) (*Message, error)
	SoftDeleteConversation(ctx context.Context, viewer, counterpart int64) (int64, error)
	ListCounterparts(ctx context.Context, viewer int64) ([]UserSummary, error)
}

// Uploader hosts image attachments and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, dataURL string) (string, error)
}

// Service runs every store-mutating operation and, only after the write
// succeeded, pushes the resulting events to whichever party is connected.
type Service struct {
	store      Store
	router     *Router
	aggregator *Aggregator
	uploader   Uploader
	log        *zap.Logger
}

func NewService(store Store, router *Router, uploader Uploader, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:      store,
		router:     router,
		aggregator: NewAggregator(store, router),
		uploader:   uploader,
		log:        log,
	}
}

func (s *Service) ListUsers(ctx context.Context, viewer int64) ([]UserSummary, error) {
	users, err := s.store.ListCounterparts(ctx, viewer)
	if err != nil {
		s.logStoreErr("list users", err, zap.Int64("viewer", viewer))
		return nil, err
	}
	return users, nil
}

func (s *Service) ListMessages(ctx context.Context, viewer, counterpart int64) ([]Message, error) {
	if counterpart <= 0 {
		return nil, ErrInvalidInput
	}
	messages, err := s.store.ListConversation(ctx, viewer, counterpart)
	if err != nil {
		s.logStoreErr("list messages", err, zap.Int64("viewer", viewer), zap.Int64("counterpart", counterpart))
		return nil, err
	}
	return messages, nil
}

func (s *Service) Send(ctx context.Context, senderID, receiverID int64, req SendRequest) (*Message, error) {
	if receiverID <= 0 || receiverID == senderID {
		return nil, ErrInvalidInput
	}

	var text, image *string
	if trimmed := strings.TrimSpace(req.Text); trimmed != "" {
		text = &trimmed
	}
	if req.Image != "" {
		if s.uploader == nil {
			return nil, ErrInvalidInput
		}
		url, err := s.uploader.Upload(ctx, req.Image)
		if err != nil {
			s.log.Error("image upload failed", zap.Int64("sender", senderID), zap.Error(err))
			return nil, ErrAttachment
		}
		image = &url
	}
	if text == nil && image == nil {
		return nil, ErrInvalidInput
	}

	msg, err := s.store.Create(ctx, senderID, receiverID, text, image)
	if err != nil {
		s.logStoreErr("send message", err, zap.Int64("sender", senderID), zap.Int64("receiver", receiverID))
		return nil, err
	}

	if s.router.Online(ctx, receiverID) {
		s.router.Notify(receiverID, NewMessageEvent(msg))
		if _, err := s.aggregator.PushTo(ctx, receiverID, receiverID, senderID); err != nil {
			// The message is stored; the receiver re-derives its counter on the next pull.
			s.logStoreErr("recompute unseen after send", err, zap.Int64("receiver", receiverID))
		}
	}
	return msg, nil
}

// MarkSeen moves a message to Seen on behalf of its receiver. Repeating it
// leaves the stored state unchanged and re-sends the same confirmation.
func (s *Service) MarkSeen(ctx context.Context, callerID, messageID int64) (*Message, error) {
	if messageID <= 0 {
		return nil, ErrInvalidInput
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		s.logStoreErr("get message", err, zap.Int64("message_id", messageID))
		return nil, err
	}
	if msg.ReceiverID != callerID {
		return nil, ErrForbidden
	}

	if !msg.Seen {
		msg, err = s.store.MarkSeen(ctx, messageID)
		if err != nil {
			s.logStoreErr("mark seen", err, zap.Int64("message_id", messageID))
			return nil, err
		}
	}

	if s.router.Online(ctx, msg.SenderID) {
		s.router.Notify(msg.SenderID, MessageSeenEvent(msg.ID))
		if _, err := s.aggregator.PushTo(ctx, msg.SenderID, msg.ReceiverID, msg.SenderID); err != nil {
			s.logStoreErr("recompute unseen after seen", err, zap.Int64("sender", msg.SenderID))
		}
	}
	return msg, nil
}

// DeleteChat hides the conversation for viewer only.
func (s *Service) DeleteChat(ctx context.Context, viewer, counterpart int64) (int64, error) {
	if counterpart <= 0 || counterpart == viewer {
		return 0, ErrInvalidInput
	}
	n, err := s.store.SoftDeleteConversation(ctx, viewer, counterpart)
	if err != nil {
		s.logStoreErr("delete chat", err, zap.Int64("viewer", viewer), zap.Int64("counterpart", counterpart))
		return 0, err
	}
	return n, nil
}

func (s *Service) OnlineUsers() []int64 {
	return s.router.OnlineUsers()
}

func (s *Service) logStoreErr(op string, err error, fields ...zap.Field) {
	if errors.Is(err, ErrNotFound) {
		return
	}
	s.log.Error(op+" failed", append(fields, zap.Error(err))...)
}
