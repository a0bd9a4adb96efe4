package subscription

import (
	"bytes"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/roach88/fellowship/internal/metrics"
	"github.com/roach88/fellowship/internal/remote"
)

type pending struct {
	snap    remote.Snapshot
	hasSnap bool
	err     error
}

// Subscription is one live query owned by a consumer.
type Subscription struct {
	m       *Manager
	key     key
	query   remote.Query
	handler Handler

	mu      sync.Mutex
	closed  bool
	failed  bool
	cancel  remote.CancelFunc
	mailbox []pending
	signal  chan struct{}
	done    chan struct{}

	// deliverMu is held from the closed check through the handler call,
	// so teardown can wait out a running delivery.
	deliverMu sync.Mutex
	// handlerG is the goroutine inside the handler, 0 when idle.
	handlerG atomic.Uint64

	// Owned by the delivery goroutine.
	last    remote.Snapshot
	hasLast bool
}

func newSubscription(m *Manager, k key, q remote.Query, h Handler) *Subscription {
	return &Subscription{
		m:       m,
		key:     k,
		query:   q,
		handler: h,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// ConsumerID returns the owning consumer.
func (s *Subscription) ConsumerID() string { return s.key.consumer }

// QueryKey returns the key the subscription was registered under.
func (s *Subscription) QueryKey() string { return s.key.query }

// Query returns the live query.
func (s *Subscription) Query() remote.Query { return s.query }

// Active reports whether the subscription has not been torn down.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Done is closed once the delivery goroutine has exited after teardown.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe tears the subscription down. When a delivery is running on
// another goroutine, Unsubscribe returns only after the handler does, so
// no handler effect is observable afterwards. Safe to call more than once
// and from inside the handler.
func (s *Subscription) Unsubscribe() {
	s.teardown()
	s.m.release(s)
}

// attach records the remote cancel function. If the subscription was torn
// down while Listen was in flight, the listener is cancelled at once.
func (s *Subscription) attach(cancel remote.CancelFunc) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()
}

func (s *Subscription) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.cancel = nil
	dropped := len(s.mailbox)
	s.mailbox = nil
	s.mu.Unlock()

	for i := 0; i < dropped; i++ {
		metrics.RecordSnapshot(metrics.SnapshotDiscarded)
	}
	if cancel != nil {
		cancel()
	}
	s.wake()
	metrics.SubscriptionClosed()

	// A handler tearing down its own subscription must not wait on itself.
	if s.handlerG.Load() != goid() {
		s.deliverMu.Lock()
		s.deliverMu.Unlock()
	}
}

// offer is the remote listener. It never blocks.
func (s *Subscription) offer(snap remote.Snapshot, err error) {
	s.mu.Lock()
	if s.closed || s.failed {
		s.mu.Unlock()
		metrics.RecordSnapshot(metrics.SnapshotDiscarded)
		return
	}
	if err != nil {
		s.failed = true
	}

	item := pending{snap: snap, hasSnap: err == nil, err: err}
	if s.m.coalesce && len(s.mailbox) > 0 {
		prev := s.mailbox[len(s.mailbox)-1]
		if err != nil && prev.hasSnap {
			// Keep the unseen snapshot as the last good state.
			item.snap, item.hasSnap = prev.snap, true
		}
		s.mailbox[len(s.mailbox)-1] = item
		s.mu.Unlock()
		metrics.RecordSnapshot(metrics.SnapshotCoalesced)
		s.wake()
		return
	}
	s.mailbox = append(s.mailbox, item)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) take() (pending, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pending{}, false, true
	}
	if len(s.mailbox) == 0 {
		return pending{}, false, false
	}
	p := s.mailbox[0]
	s.mailbox[0] = pending{}
	s.mailbox = s.mailbox[1:]
	return p, true, false
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		p, ok, closed := s.take()
		if closed {
			return
		}
		if !ok {
			<-s.signal
			continue
		}
		s.deliver(p)
	}
}

func (s *Subscription) deliver(p pending) {
	if p.hasSnap && s.hasLast && p.snap.Version < s.last.Version {
		metrics.RecordSnapshot(metrics.SnapshotDiscarded)
		return
	}

	state := State{Snapshot: s.last, Version: s.last.Version}
	if p.hasSnap {
		var prev []remote.Document
		if s.hasLast {
			prev = s.last.Docs
		}
		state.Diff = ComputeDiff(prev, p.snap.Docs)
		state.Snapshot = p.snap
		state.Version = p.snap.Version
		s.last, s.hasLast = p.snap, true
	}
	if p.err != nil {
		state.Err = &SubscriptionError{ConsumerID: s.key.consumer, QueryKey: s.key.query, Err: p.err}
		slog.Warn("live query failed", "consumer", s.key.consumer, "query_key", s.key.query, "error", p.err)
	}
	if state.Snapshot.Docs == nil {
		state.Snapshot.Docs = []remote.Document{}
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	// Drop deliveries that lost the race with teardown.
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		metrics.RecordSnapshot(metrics.SnapshotDiscarded)
		return
	}

	metrics.RecordSnapshot(metrics.SnapshotDelivered)
	s.invoke(state)
}

func (s *Subscription) invoke(state State) {
	s.handlerG.Store(goid())
	defer func() {
		s.handlerG.Store(0)
		if r := recover(); r != nil {
			slog.Error("subscription handler panicked", "consumer", s.key.consumer, "query_key", s.key.query, "panic", r)
		}
	}()
	s.handler(state)
}

// goid returns the id of the calling goroutine, read from its stack header.
func goid() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
