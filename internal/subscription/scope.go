package subscription

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/fellowship/internal/remote"
)

// ErrScopeClosed is returned by Focus after Close.
var ErrScopeClosed = errors.New("subscription scope closed")

// Scope groups the subscriptions of one consumer so they can be released
// together.
type Scope struct {
	m        *Manager
	consumer string

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// Focus subscribes under the scope's consumer id. Focusing a key that is
// already held replaces its subscription.
func (s *Scope) Focus(queryKey string, q remote.Query, handler Handler) (*Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrScopeClosed
	}
	s.mu.Unlock()

	sub, err := s.m.Subscribe(s.consumer, queryKey, q, handler)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.Unsubscribe()
		return nil, ErrScopeClosed
	}
	s.subs[queryKey] = sub
	return sub, nil
}

// Blur releases every subscription held by the scope. The scope can be
// focused again.
func (s *Scope) Blur() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]*Subscription)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// Close releases every subscription and ends the scope.
func (s *Scope) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Blur()
}

// Bind closes the scope when ctx is done.
func (s *Scope) Bind(ctx context.Context) *Scope {
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s
}

// Held returns the number of subscriptions the scope holds.
func (s *Scope) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
