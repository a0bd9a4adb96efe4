package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It backs tests and the development
// hub served by the realtime package.
type MemoryStore struct {
	mu        sync.Mutex
	docs      map[string]map[string]map[string]any // collection -> id -> data
	version   int64
	now       func() time.Time
	lastStamp time.Time
	listeners map[int64]*OrderedListener
	nextID    int64
	commits   int
	fault     func(writes []Write) error
	closed    bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the source of server timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		docs:      make(map[string]map[string]map[string]any),
		now:       time.Now,
		listeners: make(map[int64]*OrderedListener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCommitFault installs fn to run before every commit. A non-nil error
// from fn fails the commit without applying it. Pass nil to clear.
func (s *MemoryStore) SetCommitFault(fn func(writes []Write) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Commits returns the number of Commit calls that reached the store,
// including failed ones.
func (s *MemoryStore) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Version returns the current store version.
func (s *MemoryStore) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Listeners returns the number of active live queries.
func (s *MemoryStore) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// FailListeners terminates every live query on collection with err.
func (s *MemoryStore) FailListeners(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.listeners {
		if l.Query().Collection == collection {
			l.Push(Snapshot{}, err)
			l.Close()
			delete(s.listeners, id)
		}
	}
}

// Close terminates every live query with ErrClosed and rejects further
// requests.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, l := range s.listeners {
		l.Push(Snapshot{}, ErrClosed)
		l.Close()
		delete(s.listeners, id)
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Document{}, ErrClosed
	}
	data, ok := s.docs[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, ErrNoDocument)
	}
	return Document{Collection: collection, ID: id, Data: cloneMap(data)}, nil
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, q Query) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if err := q.Validate(); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrClosed
	}
	return s.snapshotLocked(q), nil
}

// Commit implements Store.
func (s *MemoryStore) Commit(ctx context.Context, writes ...Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	for _, w := range writes {
		if err := w.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	if s.closed {
		return ErrClosed
	}
	if s.fault != nil {
		if err := s.fault(writes); err != nil {
			return err
		}
	}

	for _, w := range writes {
		if w.IfVersion != 0 && w.IfVersion != s.version {
			return fmt.Errorf("commit %s at version %d, store is at %d: %w", w.Path(), w.IfVersion, s.version, ErrConflict)
		}
	}

	stamp := s.stampLocked()
	staged := make(map[string]map[string]any)
	stagedRef := make(map[string]Write)
	lookup := func(w Write) (map[string]any, bool) {
		if d, ok := staged[w.Path()]; ok {
			return d, true
		}
		d, ok := s.docs[w.Collection][w.ID]
		return d, ok
	}

	for _, w := range writes {
		cur, exists := lookup(w)
		data, err := normalizeData(w.Data)
		if err != nil {
			return err
		}
		var next map[string]any
		switch w.Op {
		case OpCreate:
			if exists {
				return fmt.Errorf("create %s: %w", w.Path(), ErrAlreadyExists)
			}
			next = data
		case OpSet:
			next = data
		case OpUpdate:
			if !exists {
				return fmt.Errorf("update %s: %w", w.Path(), ErrNoDocument)
			}
			next = cloneMap(cur)
			for k, v := range data {
				next[k] = v
			}
		}
		if err := applyTransforms(next, w.Transforms, stamp); err != nil {
			return fmt.Errorf("commit %s: %w", w.Path(), err)
		}
		staged[w.Path()] = next
		stagedRef[w.Path()] = w
	}

	touched := make(map[string]bool)
	for path, data := range staged {
		w := stagedRef[path]
		coll, ok := s.docs[w.Collection]
		if !ok {
			coll = make(map[string]map[string]any)
			s.docs[w.Collection] = coll
		}
		coll[w.ID] = data
		touched[w.Collection] = true
	}
	s.version++

	for _, l := range s.listeners {
		if touched[l.Query().Collection] {
			l.Push(s.snapshotLocked(l.Query()), nil)
		}
	}
	return nil
}

// Listen implements Store.
func (s *MemoryStore) Listen(ctx context.Context, q Query, fn Listener) (CancelFunc, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: nil listener", ErrInvalid)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.nextID++
	id := s.nextID
	l := NewOrderedListener(q, fn)
	s.listeners[id] = l
	l.Push(s.snapshotLocked(q), nil)
	s.mu.Unlock()

	go l.Run()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
			l.Close()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-l.Done():
		}
	}()
	return cancel, nil
}

func (s *MemoryStore) snapshotLocked(q Query) Snapshot {
	coll := s.docs[q.Collection]
	docs := make([]Document, 0, len(coll))
	for id, data := range coll {
		docs = append(docs, Document{Collection: q.Collection, ID: id, Data: cloneMap(data)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return Snapshot{
		Version:  s.version,
		Docs:     q.Apply(docs),
		ReadTime: s.now().UTC(),
	}
}

// stampLocked returns a commit timestamp strictly after the previous one,
// so server timestamps never go backwards even if the wall clock does.
func (s *MemoryStore) stampLocked() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = t
	return t
}

func applyTransforms(data map[string]any, transforms []Transform, stamp time.Time) error {
	for _, t := range transforms {
		switch t.Kind {
		case TransformServerTimestamp:
			data[t.Field] = FormatTimestamp(stamp)
		case TransformArrayUnion:
			var arr []any
			if cur, ok := data[t.Field]; ok && cur != nil {
				existing, ok := cur.([]any)
				if !ok {
					return fmt.Errorf("%w: %s is not an array", ErrInvalid, t.Field)
				}
				arr = append(arr, existing...)
			}
			for _, v := range t.Values {
				nv, err := normalizeValue(v)
				if err != nil {
					return err
				}
				if !containsValue(arr, nv) {
					arr = append(arr, nv)
				}
			}
			if arr == nil {
				arr = []any{}
			}
			data[t.Field] = arr
		case TransformIncrement:
			var n float64
			if cur, ok := data[t.Field]; ok && cur != nil {
				f, ok := cur.(float64)
				if !ok {
					return fmt.Errorf("%w: %s is not a number", ErrInvalid, t.Field)
				}
				n = f
			}
			data[t.Field] = n + float64(t.Delta)
		}
	}
	return nil
}

func containsValue(arr []any, v any) bool {
	for _, e := range arr {
		if compareValues(e, v) == 0 {
			return true
		}
	}
	return false
}

