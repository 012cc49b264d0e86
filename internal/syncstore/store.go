package syncstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"dm-chat/internal/chat"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrNoConversation = errors.New("no conversation is open")

// Store is one signed-in user's cache of the conversation list, the open
// conversation and the presence set. Pulls replace cached state; pushes
// patch it. Counters pushed by the server overwrite local ones.
type Store struct {
	mu   sync.Mutex
	api  API
	self int64
	log  *zap.Logger

	users    []chat.UserSummary
	active   int64
	messages []chat.Message
	online   map[int64]struct{}

	// message ids already applied from a newMessage push
	delivered map[int64]struct{}
	// message ids a seen request was issued for in this session
	marked map[int64]struct{}
	// bumped on every open/close so a slow pull cannot land in the wrong conversation
	generation uint64
}

func New(api API, self int64, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		api:       api,
		self:      self,
		log:       log.With(zap.Int64("user_id", self)),
		online:    make(map[int64]struct{}),
		delivered: make(map[int64]struct{}),
		marked:    make(map[int64]struct{}),
	}
}

// LoadUsers pulls the conversation list with authoritative counters.
func (s *Store) LoadUsers(ctx context.Context) error {
	users, err := s.api.ListUsers(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	return nil
}

// OpenConversation makes userID the active conversation. Its counter drops
// to zero right away; the message list is then pulled and every unseen
// inbound message in it is marked seen. A failed pull restores the
// previous state.
func (s *Store) OpenConversation(ctx context.Context, userID int64) error {
	s.mu.Lock()
	prevActive, prevMessages := s.active, s.messages
	prevCount, hadEntry := s.counterLocked(userID)
	if hadEntry {
		s.setCounterLocked(userID, 0)
	}
	s.active = userID
	s.messages = nil
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	list, err := s.api.ListMessages(ctx, userID)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		// Pushes buffered during the pull were never shown; count them as unseen.
		restored := prevCount
		for _, m := range s.messages {
			if m.SenderID == userID && m.ReceiverID == s.self && !m.Seen {
				restored++
			}
		}
		s.active, s.messages = prevActive, prevMessages
		if hadEntry || restored > 0 {
			s.setCounterLocked(userID, restored)
		}
		s.mu.Unlock()
		return err
	}
	// Pushes that arrived during the pull are kept if the pull missed them.
	s.messages = mergeMessages(list, s.messages)
	s.mu.Unlock()

	return s.MarkVisibleSeen(ctx)
}

// MarkVisibleSeen marks every unseen message addressed to this user in the
// active conversation, one request at a time in list order.
func (s *Store) MarkVisibleSeen(ctx context.Context) error {
	s.mu.Lock()
	var pending []int64
	for _, m := range s.messages {
		if m.ReceiverID == s.self && !m.Seen {
			pending = append(pending, m.ID)
		}
	}
	s.mu.Unlock()

	var errs error
	for _, id := range pending {
		errs = multierr.Append(errs, s.MarkSeen(ctx, id))
	}
	return errs
}

func (s *Store) CloseConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = 0
	s.messages = nil
	s.generation++
}

// MarkSeen asks the server to mark one message seen. Each id is requested at
// most once per session unless the request fails.
func (s *Store) MarkSeen(ctx context.Context, messageID int64) error {
	s.mu.Lock()
	if _, ok := s.marked[messageID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.marked[messageID] = struct{}{}
	s.mu.Unlock()

	msg, err := s.api.MarkSeen(ctx, messageID)
	if err != nil {
		s.mu.Lock()
		delete(s.marked, messageID)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.setSeenLocked(msg.ID)
	s.mu.Unlock()
	return nil
}

// RequestSend posts a message to the active conversation and appends the
// stored result. The recipient's local counter is bumped optimistically until
// the server pushes an authoritative value.
func (s *Store) RequestSend(ctx context.Context, text, image string) (*chat.Message, error) {
	s.mu.Lock()
	receiver := s.active
	s.mu.Unlock()
	if receiver == 0 {
		return nil, ErrNoConversation
	}

	msg, err := s.api.Send(ctx, receiver, chat.SendRequest{Text: text, Image: image})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == receiver && !s.hasMessageLocked(msg.ID) {
		s.messages = append(s.messages, *msg)
	}
	if count, ok := s.counterLocked(receiver); ok {
		s.setCounterLocked(receiver, count+1)
	}
	return msg, nil
}

// DeleteChat hides the conversation with userID for this user and drops it
// from the cached list.
func (s *Store) DeleteChat(ctx context.Context, userID int64) (int64, error) {
	n, err := s.api.DeleteChat(ctx, userID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == userID {
		s.active = 0
		s.messages = nil
		s.generation++
	}
	for i, u := range s.users {
		if u.ID == userID {
			s.users = append(s.users[:i], s.users[i+1:]...)
			break
		}
	}
	return n, nil
}

// Apply folds one push frame into the cache and reports its kind.
func (s *Store) Apply(raw []byte) (chat.EventKind, error) {
	kind, data, err := chat.DecodeFrame(raw)
	if err != nil {
		return 0, err
	}

	switch kind {
	case chat.EventNewMessage:
		var m chat.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return kind, errors.Wrap(err, "newMessage payload")
		}
		s.applyIncomingMessage(m)
	case chat.EventMessageSeen:
		var p chat.MessageSeenPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return kind, errors.Wrap(err, "messageSeen payload")
		}
		s.applySeenReceipt(p.MessageID)
	case chat.EventUnseenCount:
		var p chat.UnseenCountPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return kind, errors.Wrap(err, "updateUnseenCount payload")
		}
		s.applyCounterUpdate(p.SenderID, p.UnseenCount)
	case chat.EventOnlineUsers:
		var ids []int64
		if err := json.Unmarshal(data, &ids); err != nil {
			return kind, errors.Wrap(err, "getOnlineUsers payload")
		}
		s.applyOnlineUsers(ids)
	case chat.EventError:
		var p chat.ErrorPayload
		_ = json.Unmarshal(data, &p)
		s.log.Warn("server reported an error", zap.String("message", p.Message))
	default:
		return kind, errors.Errorf("unexpected %s event from server", kind)
	}
	return kind, nil
}

func (s *Store) applyIncomingMessage(m chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.delivered[m.ID]; ok {
		return
	}
	s.delivered[m.ID] = struct{}{}

	if s.active == m.SenderID {
		if !s.hasMessageLocked(m.ID) {
			s.messages = append(s.messages, m)
		}
		return
	}
	count, _ := s.counterLocked(m.SenderID)
	s.setCounterLocked(m.SenderID, count+1)
}

func (s *Store) applySeenReceipt(messageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSeenLocked(messageID)
}

func (s *Store) applyCounterUpdate(counterpart int64, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCounterLocked(counterpart, count)
}

func (s *Store) applyOnlineUsers(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		s.online[id] = struct{}{}
	}
}

// Users returns a copy of the cached conversation list.
func (s *Store) Users() []chat.UserSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.UserSummary(nil), s.users...)
}

// Messages returns a copy of the active conversation's messages.
func (s *Store) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Message(nil), s.messages...)
}

func (s *Store) Active() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Unseen returns the cached counter for userID, zero when unknown.
func (s *Store) Unseen(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, _ := s.counterLocked(userID)
	return count
}

func (s *Store) Online() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) IsOnline(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[userID]
	return ok
}

func (s *Store) counterLocked(userID int64) (int, bool) {
	for _, u := range s.users {
		if u.ID == userID {
			return u.UnseenCount, true
		}
	}
	return 0, false
}

// setCounterLocked adds a stub entry for an unlisted user; LoadUsers fills in the profile.
func (s *Store) setCounterLocked(userID int64, count int) {
	for i := range s.users {
		if s.users[i].ID == userID {
			s.users[i].UnseenCount = count
			return
		}
	}
	s.users = append(s.users, chat.UserSummary{ID: userID, UnseenCount: count})
}

func (s *Store) setSeenLocked(messageID int64) {
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].Seen = true
			return
		}
	}
}

func (s *Store) hasMessageLocked(messageID int64) bool {
	for _, m := range s.messages {
		if m.ID == messageID {
			return true
		}
	}
	return false
}

// mergeMessages returns pulled plus any buffered message it lacks, in
// (createdAt, id) order.
func mergeMessages(pulled, buffered []chat.Message) []chat.Message {
	seen := make(map[int64]struct{}, len(pulled))
	out := make([]chat.Message, 0, len(pulled)+len(buffered))
	for _, m := range pulled {
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	for _, m := range buffered {
		if _, ok := seen[m.ID]; !ok {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
