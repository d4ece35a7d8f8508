// Package inmemory is a thread-safe in-memory history store.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/OnslaughtSnail/caravel/kernel/history"
	"github.com/OnslaughtSnail/caravel/kernel/message"
)

type entry struct {
	session  history.Session
	messages []*message.Message
}

// Store keeps sessions in process memory.
type Store struct {
	mu   sync.RWMutex
	data map[string]*entry
	now  func() time.Time
}

func New() *Store {
	return &Store{data: map[string]*entry{}, now: time.Now}
}

func (s *Store) GetOrCreate(ctx context.Context, id string) (*history.Session, error) {
	_ = ctx
	if id == "" {
		return nil, fmt.Errorf("history: session id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[id]; ok {
		cp := e.session
		return &cp, nil
	}
	now := s.now()
	e := &entry{session: history.Session{ID: id, Created: now, Updated: now}}
	s.data[id] = e
	cp := e.session
	return &cp, nil
}

func (s *Store) AppendMessages(ctx context.Context, id string, msgs ...*message.Message) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[id]
	if !ok {
		return history.ErrSessionNotFound
	}
	for _, m := range msgs {
		if m == nil {
			return fmt.Errorf("history: message is nil")
		}
		cp := *m
		e.messages = append(e.messages, &cp)
	}
	e.session.Updated = s.now()
	return nil
}

func (s *Store) LoadConversation(ctx context.Context, id string) (*message.Conversation, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[id]
	if !ok {
		return nil, history.ErrSessionNotFound
	}
	convo := message.NewConversation()
	for _, m := range e.messages {
		cp := *m
		convo.Append(&cp)
	}
	return convo, nil
}

func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[id]
	if !ok {
		return history.ErrSessionNotFound
	}
	e.session.Title = title
	e.session.Updated = s.now()
	return nil
}

func (s *Store) Sessions(ctx context.Context) ([]*history.Session, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*history.Session, 0, len(s.data))
	for _, e := range s.data {
		cp := e.session
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].Updated.Equal(out[b].Updated) {
			return out[a].Updated.After(out[b].Updated)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return history.ErrSessionNotFound
	}
	delete(s.data, id)
	return nil
}
