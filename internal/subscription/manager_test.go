package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/remote"
)

// manualStore hands the test each listener so snapshots can be pushed by
// hand, and counts cancel calls per listener.
type manualStore struct {
	remote.Store

	mu        sync.Mutex
	listeners []remote.Listener
	cancels   []*atomic.Int32
	listenErr error
}

func (s *manualStore) Listen(ctx context.Context, q remote.Query, fn remote.Listener) (remote.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listenErr != nil {
		return nil, s.listenErr
	}
	n := new(atomic.Int32)
	s.listeners = append(s.listeners, fn)
	s.cancels = append(s.cancels, n)
	return func() { n.Add(1) }, nil
}

func (s *manualStore) listener(i int) remote.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listeners[i]
}

func (s *manualStore) cancelCount(i int) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels[i].Load()
}

func snap(version int64, ids ...string) remote.Snapshot {
	docs := make([]remote.Document, len(ids))
	for i, id := range ids {
		docs[i] = remote.Document{Collection: "m", ID: id, Data: map[string]any{"text": id}}
	}
	return remote.Snapshot{Version: version, Docs: docs}
}

// recorder collects handler states.
type recorder struct {
	mu     sync.Mutex
	states []State
	calls  chan State
	block  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{calls: make(chan State, 64)}
}

func (r *recorder) handle(s State) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	r.calls <- s
}

func (r *recorder) next(t *testing.T) State {
	t.Helper()
	select {
	case s := <-r.calls:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return State{}
	}
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case s := <-r.calls:
		t.Fatalf("unexpected delivery of version %d", s.Version)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_DeliversSnapshotsWithDiffs(t *testing.T) {
	store := remote.NewMemoryStore()
	m := NewManager(store)
	defer m.Close()
	ctx := context.Background()

	rec := newRecorder()
	_, err := m.Subscribe("chat", "groupMessages:42", remote.Collection("m"), rec.handle)
	require.NoError(t, err)

	first := rec.next(t)
	assert.Empty(t, first.Snapshot.Docs)
	assert.NotNil(t, first.Snapshot.Docs)
	assert.False(t, first.Failed())

	require.NoError(t, store.Commit(ctx, remote.Write{Op: remote.OpCreate, Collection: "m", ID: "a", Data: map[string]any{"text": "hi"}}))
	second := rec.next(t)
	assert.Equal(t, []string{"a"}, second.Diff.Added)
	assert.Greater(t, second.Version, first.Version)

	require.NoError(t, store.Commit(ctx, remote.Write{Op: remote.OpUpdate, Collection: "m", ID: "a", Data: map[string]any{"text": "hello"}}))
	third := rec.next(t)
	assert.Equal(t, []string{"a"}, third.Diff.Modified)
	assert.Empty(t, third.Diff.Added)
}

func TestSubscribe_SingleFlightPerKey(t *testing.T) {
	store := &manualStore{}
	m := NewManager(store)
	defer m.Close()

	first, err := m.Subscribe("chat", "groupMessages:42", remote.Collection("m"), func(State) {})
	require.NoError(t, err)
	second, err := m.Subscribe("chat", "groupMessages:42", remote.Collection("m"), func(State) {})
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.False(t, first.Active(), "first handle is invalidated")
	assert.True(t, second.Active())
	assert.Equal(t, int32(1), store.cancelCount(0), "first teardown runs exactly once")
	assert.Equal(t, int32(0), store.cancelCount(1))
	assert.Equal(t, 1, m.Active())

	first.Unsubscribe()
	assert.Equal(t, int32(1), store.cancelCount(0))
	assert.Equal(t, 1, m.Active(), "stale handle must not release the new subscription")

	got, ok := m.Lookup("chat", "groupMessages:42")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestSubscribe_DifferentConsumersDoNotShare(t *testing.T) {
	store := &manualStore{}
	m := NewManager(store)
	defer m.Close()

	_, err := m.Subscribe("screen-a", "k", remote.Collection("m"), func(State) {})
	require.NoError(t, err)
	_, err = m.Subscribe("screen-b", "k", remote.Collection("m"), func(State) {})
	require.NoError(t, err)

	assert.Equal(t, 2, m.Active())
	assert.Equal(t, int32(0), store.cancelCount(0))
}

func TestUnsubscribe_DropsInFlightSnapshots(t *testing.T) {
	store := &manualStore{}
	m := NewManager(store)
	defer m.Close()

	rec := newRecorder()
	rec.block = make(chan struct{})
	sub, err := m.Subscribe("chat", "k", remote.Collection("m"), rec.handle)
	require.NoError(t, err)

	fn := store.listener(0)
	fn(snap(1, "a"), nil) // handler blocks on this one
	time.Sleep(10 * time.Millisecond)
	fn(snap(2, "a", "b"), nil) // queued behind it

	unsubscribed := make(chan struct{})
	go func() {
		sub.Unsubscribe()
		close(unsubscribed)
	}()
	require.Eventually(t, func() bool { return !sub.Active() }, 2*time.Second, time.Millisecond)
	close(rec.block)
	select {
	case <-unsubscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("Unsubscribe did not return")
	}

	require.Len(t, rec.calls, 1, "the running delivery finished before Unsubscribe returned")
	assert.Equal(t, int64(1), rec.next(t).Version)
	rec.expectNone(t)

	fn(snap(3, "a", "b", "c"), nil)
	rec.expectNone(t)
	assert.Equal(t, int32(1), store.cancelCount(0))
}

func TestUnsubscribe_WaitsForRunningHandler(t *testing.T) {
	store := &manualStore{}
	m := NewManager(store)
	defer m.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	var destroyed, mutatedAfterDestroy atomic.Bool
	sub, err := m.Subscribe("chat", "k", remote.Collection("m"), func(State) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		if destroyed.Load() {
			mutatedAfterDestroy.Store(true)
		}
	})
	require.NoError(t, err)

	fn := store.listener(0)
	fn(snap(1, "a"), nil)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
	fn(snap(2, "a", "b"), nil)

	returned := make(chan struct{})
	go func() {
		sub.Unsubscribe()
		destroyed.Store(true)
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("Unsubscribe returned while the handler was running")
	case <-time.After(30 * time.Millisecond):
	}
	require.Eventually(t, func() bool { return !sub.Active() }, 2*time.Second, time.Millisecond)

	close(release)
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Unsubscribe did not return after the handler finished")
	}
	time.Sleep(20 * time.Millisecond)

	assert.False(t, mutatedAfterDestroy.Load())
	assert.Equal(t, int32(1), calls.Load(), "queued snapshot is dropped")
}

func TestUnsubscribe_FromInsideHandler(t *testing.T) {
	store := &manualStore{}
	m := NewManager(store)
	defer m.Close()

	var sub *Subscription
	var calls atomic.Int32
	ready := make(chan struct{})
	sub, err := m.Subscribe("chat", "k", remote.Collection("m"), func(State) {
		<-ready
		calls.Add(1)
		sub.Unsubscribe()
	})
	require.NoError(t, err)
	close(ready)

	fn := store.listener(0)
	fn(snap(1, "a"), nil)
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("delivery goroutine did not exit")
	}
	fn(snap(2, "a"), nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDelivery_CoalescesWhenHandlerLags(t *testing.T) {
	store := &manualStore{}
	m := NewManager(store)
	defer m.Close()

	rec := newRecorder()
	rec.block = make(chan struct{})
	_, err := m.Subscribe("chat", "k", remote.Collection("m"), rec.handle)
	require.NoError(t, err)

	fn := store.listener(0)
	fn(snap(1, "a"), nil)
	time.Sleep(10 * time.Millisecond)
	fn(snap(2, "a", "b"), nil)
	fn(snap(3, "a", "b", "c"), nil)
	fn(snap(4, "a", "b", "c", "d"), nil)
	close(rec.block)

	assert.Equal(t, int64(1), rec.next(t).Version)
	latest := rec.next(t)
	assert.Equal(t, int64(4), latest.Version, "only the newest pending snapshot is delivered")
	assert.Equal(t, []string{"b", "c", "d"}, latest.Diff.Added)
	rec.expectNone(t)
}

func TestDelivery_WithoutCoalescingKeepsEverySnapshot(t *testing.T) {
	store := &manualStore{}
	m := NewManager(store, WithCoalescing(false))
	defer m.Close()

	rec := newRecorder()
	rec.block = make(chan struct{})
	_, err := m.Subscribe("chat", "k", remote.Collection("m"), rec.handle)
	require.NoError(t, err)

	fn := store.listener(0)
	for v := int64(1); v <= 3; v++ {
		fn(snap(v, "a"), nil)
	}
	close(rec.block)
	for v := int64(1); v <= 3; v++ {
		assert.Equal(t, v, rec.next(t).Version)
	}
}

func TestDelivery_NeverGoesBackwards(t *testing.T) {
	store := &manualStore{}
	m := NewManager(store, WithCoalescing(false))
	defer m.Close()

	rec := newRecorder()
	_, err := m.Subscribe("chat", "k", remote.Collection("m"), rec.handle)
	require.NoError(t, err)

	fn := store.listener(0)
	fn(snap(5, "a"), nil)
	assert.Equal(t, int64(5), rec.next(t).Version)
	fn(snap(3, "old"), nil)
	rec.expectNone(t)
}

func TestDelivery_ErrorKeepsLastGoodSnapshot(t *testing.T) {
	store := &manualStore{}
	m := NewManager(store)
	defer m.Close()

	rec := newRecorder()
	_, err := m.Subscribe("chat", "k", remote.Collection("m"), rec.handle)
	require.NoError(t, err)

	fn := store.listener(0)
	fn(snap(1, "a", "b"), nil)
	rec.next(t)

	denied := errors.New("permission denied")
	fn(remote.Snapshot{}, denied)
	s := rec.next(t)
	require.True(t, s.Failed())
	assert.ErrorIs(t, s.Err, denied)
	assert.ErrorIs(t, s.Err, domain.ErrSubscription)
	assert.Equal(t, []string{"a", "b"}, s.Snapshot.IDs(), "stale but displayed")
	assert.Equal(t, int64(1), s.Version)

	fn(snap(2, "a"), nil)
	rec.expectNone(t)
}

func TestSubscribe_ListenFailure(t *testing.T) {
	store := &manualStore{listenErr: remote.ErrPermissionDenied}
	m := NewManager(store)
	defer m.Close()

	_, err := m.Subscribe("chat", "k", remote.Collection("m"), func(State) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSubscription)
	assert.ErrorIs(t, err, remote.ErrPermissionDenied)
	assert.Equal(t, 0, m.Active())
}

func TestSubscribe_RejectsInvalidInput(t *testing.T) {
	m := NewManager(&manualStore{})
	defer m.Close()

	_, err := m.Subscribe("c", "k", remote.Query{}, func(State) {})
	assert.ErrorIs(t, err, remote.ErrInvalid)
	_, err = m.Subscribe("c", "k", remote.Collection("m"), nil)
	assert.Error(t, err)
}

func TestManagerClose(t *testing.T) {
	store := &manualStore{}
	m := NewManager(store)

	_, err := m.Subscribe("a", "k1", remote.Collection("m"), func(State) {})
	require.NoError(t, err)
	_, err = m.Subscribe("b", "k2", remote.Collection("m"), func(State) {})
	require.NoError(t, err)

	m.Close()
	m.Close()
	assert.Equal(t, 0, m.Active())
	assert.Equal(t, int32(1), store.cancelCount(0))
	assert.Equal(t, int32(1), store.cancelCount(1))

	_, err = m.Subscribe("a", "k1", remote.Collection("m"), func(State) {})
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestComputeDiff(t *testing.T) {
	prev := snap(1, "a", "b", "c").Docs
	next := snap(2, "b", "c", "d").Docs
	next[1].Data = map[string]any{"text": "changed"}

	d := ComputeDiff(prev, next)
	assert.Equal(t, []string{"d"}, d.Added)
	assert.Equal(t, []string{"c"}, d.Modified)
	assert.Equal(t, []string{"a"}, d.Removed)
	assert.False(t, d.Empty())
	assert.True(t, ComputeDiff(prev, prev).Empty())
}

func TestGoid_DistinguishesGoroutines(t *testing.T) {
	self := goid()
	require.NotZero(t, self)
	assert.Equal(t, self, goid())

	other := make(chan uint64)
	go func() { other <- goid() }()
	assert.NotEqual(t, self, <-other)
}
