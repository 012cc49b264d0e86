package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same semantics as Repository.
type memStore struct {
	mu       sync.Mutex
	users    map[int64]UserSummary
	messages []*Message
	nextID   int64
	clock    time.Time
	fail     error
}

func newMemStore(users ...UserSummary) *memStore {
	s := &memStore{
		users: make(map[int64]UserSummary),
		clock: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) setFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func clone(m *Message) *Message {
	c := *m
	c.DeletedBy = append([]int64{}, m.DeletedBy...)
	return &c
}

func (s *memStore) Create(_ context.Context, senderID, receiverID int64, text, image *string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	if _, ok := s.users[senderID]; !ok {
		return nil, ErrNotFound
	}
	if _, ok := s.users[receiverID]; !ok {
		return nil, ErrNotFound
	}
	s.nextID++
	s.clock = s.clock.Add(time.Second)
	m := &Message{
		ID:         s.nextID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Image:      image,
		DeletedBy:  []int64{},
		CreatedAt:  s.clock,
	}
	s.messages = append(s.messages, m)
	return clone(m), nil
}

func (s *memStore) find(id int64) *Message {
	for _, m := range s.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (s *memStore) GetMessage(_ context.Context, messageID int64) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	m := s.find(messageID)
	if m == nil {
		return nil, ErrNotFound
	}
	return clone(m), nil
}

func (s *memStore) ListConversation(_ context.Context, viewer, counterpart int64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	out := make([]Message, 0)
	for _, m := range s.messages {
		if m.Between(viewer, counterpart) && !m.DeletedFor(viewer) {
			out = append(out, *clone(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) CountUnseen(_ context.Context, viewer, counterpart int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	return s.countLocked(viewer, counterpart), nil
}

func (s *memStore) countLocked(viewer, counterpart int64) int {
	n := 0
	for _, m := range s.messages {
		if m.SenderID == counterpart && m.ReceiverID == viewer && !m.Seen && !m.DeletedFor(viewer) {
			n++
		}
	}
	return n
}

func (s *memStore) MarkSeen(_ context.Context, messageID int64) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	m := s.find(messageID)
	if m == nil {
		return nil, ErrNotFound
	}
	m.Seen = true
	return clone(m), nil
}

func (s *memStore) SoftDeleteConversation(_ context.Context, viewer, counterpart int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	var n int64
	for _, m := range s.messages {
		if m.Between(viewer, counterpart) && !m.DeletedFor(viewer) {
			m.DeletedBy = append(m.DeletedBy, viewer)
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListCounterparts(_ context.Context, viewer int64) ([]UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	out := make([]UserSummary, 0, len(s.users))
	for id, u := range s.users {
		if id == viewer {
			continue
		}
		u.UnseenCount = s.countLocked(viewer, id)
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// stored returns a copy of a message regardless of soft deletes.
func (s *memStore) stored(id int64) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *clone(s.find(id))
}

// derivedCounters computes UnseenCounter for every ordered pair of users.
func (s *memStore) derivedCounters() map[[2]int64]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[[2]int64]int)
	for v := range s.users {
		for c := range s.users {
			if v != c {
				out[[2]int64{v, c}] = s.countLocked(v, c)
			}
		}
	}
	return out
}
