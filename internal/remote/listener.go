package remote

import (
	"log/slog"
	"sync"
)

type delivery struct {
	snap Snapshot
	err  error
}

// OrderedListener calls a Listener from one goroutine in push order. Its
// queue is unbounded so producers never block on a slow consumer;
// coalescing is left to the consumer.
//
// Store implementations use it to honour the Listen delivery contract.
type OrderedListener struct {
	query   Query
	fn      Listener
	mu      sync.Mutex
	pending []delivery
	closed  bool
	signal  chan struct{}
	stopped chan struct{}
}

// NewOrderedListener creates a listener for q. Run must be started.
func NewOrderedListener(q Query, fn Listener) *OrderedListener {
	return &OrderedListener{
		query:   q,
		fn:      fn,
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Query returns the query being listened to.
func (l *OrderedListener) Query() Query {
	return l.query
}

// Push queues a delivery. Pushes after Close are dropped.
func (l *OrderedListener) Push(snap Snapshot, err error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.pending = append(l.pending, delivery{snap: snap, err: err})
	l.mu.Unlock()
	l.wake()
}

// Close stops accepting deliveries. Queued snapshots are dropped; a queued
// error is still delivered.
func (l *OrderedListener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	l.wake()
}

// Done is closed when Run returns.
func (l *OrderedListener) Done() <-chan struct{} {
	return l.stopped
}

func (l *OrderedListener) wake() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *OrderedListener) next() (delivery, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return delivery{}, false, l.closed
	}
	d := l.pending[0]
	l.pending[0] = delivery{}
	l.pending = l.pending[1:]
	return d, true, l.closed
}

// Run delivers until Close is called or an error has been delivered.
func (l *OrderedListener) Run() {
	defer close(l.stopped)
	for {
		d, ok, closed := l.next()
		if !ok {
			if closed {
				return
			}
			<-l.signal
			continue
		}
		if closed && d.err == nil {
			continue
		}
		l.deliver(d)
		if d.err != nil {
			return
		}
	}
}

func (l *OrderedListener) deliver(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("listener panicked", "query", l.query.String(), "panic", r)
		}
	}()
	l.fn(d.snap, d.err)
}
