package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/fellowship/internal/metrics"
	"github.com/roach88/fellowship/internal/remote"
)

// ErrManagerClosed is returned by Subscribe after Close.
var ErrManagerClosed = errors.New("subscription manager closed")

// Handler receives subscription states.
type Handler func(State)

type key struct {
	consumer string
	query    string
}

// Manager owns every live subscription of one client.
type Manager struct {
	store    remote.Store
	coalesce bool

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[key]*Subscription
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithCoalescing controls whether a lagging handler sees only the newest
// snapshot (the default) or every snapshot in order.
func WithCoalescing(on bool) Option {
	return func(m *Manager) { m.coalesce = on }
}

// NewManager creates a manager listening on store.
func NewManager(store remote.Store, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:    store,
		coalesce: true,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[key]*Subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe starts a live query for (consumerID, queryKey). An existing
// subscription for the pair is torn down before the new listener starts.
func (m *Manager) Subscribe(consumerID, queryKey string, q remote.Query, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s/%s: nil handler", consumerID, queryKey)
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("subscribe %s/%s: %w", consumerID, queryKey, err)
	}

	k := key{consumer: consumerID, query: queryKey}
	sub := newSubscription(m, k, q, handler)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	prior := m.subs[k]
	m.subs[k] = sub
	m.mu.Unlock()

	if prior != nil {
		slog.Debug("replacing subscription", "consumer", consumerID, "query_key", queryKey)
		prior.teardown()
	}

	go sub.run()
	metrics.SubscriptionOpened()

	cancel, err := m.store.Listen(m.ctx, q, sub.offer)
	if err != nil {
		sub.Unsubscribe()
		return nil, &SubscriptionError{ConsumerID: consumerID, QueryKey: queryKey, Err: err}
	}
	sub.attach(cancel)
	return sub, nil
}

// Unsubscribe tears sub down. It is equivalent to sub.Unsubscribe.
func (m *Manager) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Active returns the number of registered subscriptions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Lookup returns the current subscription for (consumerID, queryKey).
func (m *Manager) Lookup(consumerID, queryKey string) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[key{consumer: consumerID, query: queryKey}]
	return s, ok
}

// Scope returns a scope acquiring subscriptions for consumerID.
func (m *Manager) Scope(consumerID string) *Scope {
	return &Scope{m: m, consumer: consumerID, subs: make(map[string]*Subscription)}
}

// Close tears down every subscription and rejects new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	m.cancel()
}

// release removes sub from the registry if it is still the current
// subscription for its key.
func (m *Manager) release(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[sub.key] == sub {
		delete(m.subs, sub.key)
	}
}
