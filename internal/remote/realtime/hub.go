package realtime

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/fellowship/internal/metrics"
	"github.com/roach88/fellowship/internal/remote"
)

const (
	writeWait     = 10 * time.Second
	outboxSize    = 64
	maxFrameBytes = 1 << 20
)

// Hub serves a remote.Store to websocket clients.
type Hub struct {
	store    remote.Store
	token    string
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithToken requires clients to present token as a bearer token.
func WithToken(token string) HubOption {
	return func(h *Hub) { h.token = token }
}

// NewHub creates a hub serving store.
func NewHub(store remote.Store, opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		store: store,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Close disconnects every client and waits for their handlers to finish.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
}

// ServeHTTP upgrades the request and serves frames until the client goes
// away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	h.wg.Add(1)
	defer h.wg.Done()

	metrics.HubConnectionOpened()
	defer metrics.HubConnectionClosed()

	slog.Debug("hub client connected", "remote", r.RemoteAddr)
	err = newSession(h.store, conn).serve(h.ctx)
	if err != nil && !isCloseError(err) {
		slog.Warn("hub session ended", "remote", r.RemoteAddr, "error", err)
	}
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if got == "" {
		got = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

// session is one client connection.
type session struct {
	store remote.Store
	conn  *websocket.Conn
	out   chan Frame

	mu   sync.Mutex
	subs map[string]remote.CancelFunc
}

func newSession(store remote.Store, conn *websocket.Conn) *session {
	return &session{
		store: store,
		conn:  conn,
		out:   make(chan Frame, outboxSize),
		subs:  make(map[string]remote.CancelFunc),
	}
}

func (s *session) serve(parent context.Context) error {
	g, ctx := errgroup.WithContext(parent)

	g.Go(func() error { return s.readLoop(ctx) })
	g.Go(func() error { return s.writeLoop(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		s.conn.Close()
		return nil
	})

	err := g.Wait()
	s.cancelAll()
	return err
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			return err
		}
		s.handle(ctx, f)
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return ctx.Err()
		case f := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				return err
			}
		}
	}
}

// send queues f for the writer. It gives up when the session ends.
func (s *session) send(ctx context.Context, f Frame) {
	select {
	case s.out <- f:
	case <-ctx.Done():
	}
}

func (s *session) handle(ctx context.Context, f Frame) {
	switch f.Type {
	case FrameGet:
		doc, err := s.store.Get(ctx, f.Collection, f.ID)
		if err != nil {
			s.send(ctx, errorFrame(f.Ref, "", err))
			return
		}
		s.send(ctx, Frame{Type: FrameResult, Ref: f.Ref, Document: &doc})

	case FrameQuery:
		if f.Query == nil {
			s.send(ctx, errorFrame(f.Ref, "", remote.ErrInvalid))
			return
		}
		snap, err := s.store.Query(ctx, *f.Query)
		if err != nil {
			s.send(ctx, errorFrame(f.Ref, "", err))
			return
		}
		s.send(ctx, Frame{Type: FrameResult, Ref: f.Ref, Snapshot: &snap})

	case FrameCommit:
		if err := authorizeCommit(ctx, s.store, f.Writes); err != nil {
			s.send(ctx, errorFrame(f.Ref, "", err))
			return
		}
		if err := s.store.Commit(ctx, f.Writes...); err != nil {
			s.send(ctx, errorFrame(f.Ref, "", err))
			return
		}
		s.send(ctx, Frame{Type: FrameResult, Ref: f.Ref})

	case FrameListen:
		s.listen(ctx, f)

	case FrameUnlisten:
		s.mu.Lock()
		cancel, ok := s.subs[f.Sub]
		delete(s.subs, f.Sub)
		s.mu.Unlock()
		if ok {
			cancel()
		}
		s.send(ctx, Frame{Type: FrameResult, Ref: f.Ref, Sub: f.Sub})

	default:
		s.send(ctx, errorFrame(f.Ref, "", errors.New("unknown frame type "+f.Type)))
	}
}

func (s *session) listen(ctx context.Context, f Frame) {
	if f.Query == nil || f.Sub == "" {
		s.send(ctx, errorFrame(f.Ref, f.Sub, remote.ErrInvalid))
		return
	}
	s.mu.Lock()
	_, dup := s.subs[f.Sub]
	s.mu.Unlock()
	if dup {
		s.send(ctx, errorFrame(f.Ref, "", errors.New("sub "+f.Sub+" already listening")))
		return
	}

	sub := f.Sub
	cancel, err := s.store.Listen(ctx, *f.Query, func(snap remote.Snapshot, err error) {
		if err != nil {
			s.mu.Lock()
			delete(s.subs, sub)
			s.mu.Unlock()
			s.send(ctx, errorFrame("", sub, err))
			return
		}
		s.send(ctx, Frame{Type: FrameSnapshot, Sub: sub, Snapshot: &snap})
	})
	if err != nil {
		s.send(ctx, errorFrame(f.Ref, sub, err))
		return
	}
	s.mu.Lock()
	s.subs[sub] = cancel
	s.mu.Unlock()
	s.send(ctx, Frame{Type: FrameResult, Ref: f.Ref, Sub: sub})
}

func (s *session) cancelAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]remote.CancelFunc)
	s.mu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
}

func isCloseError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// authorizeCommit enforces group access on message creation: the userId of
// a created or replaced message must be a member of its group, either
// already or by an arrayUnion on memberIds in the same batch. Membership is
// read before the commit, so the check is not atomic with it; members are
// only ever added, which keeps an authorized write authorized.
func authorizeCommit(ctx context.Context, store remote.Store, writes []remote.Write) error {
	for _, w := range writes {
		groupID, ok := messageGroup(w.Collection)
		if !ok || (w.Op != remote.OpCreate && w.Op != remote.OpSet) {
			continue
		}
		userID, _ := w.Data["userId"].(string)
		if userID == "" {
			return fmt.Errorf("message %s/%s has no userId: %w", w.Collection, w.ID, remote.ErrPermissionDenied)
		}
		if joinedInBatch(writes, groupID, userID) {
			continue
		}
		member, err := isMember(ctx, store, groupID, userID)
		if err != nil {
			return err
		}
		if !member {
			return fmt.Errorf("user %s is not a member of group %s: %w", userID, groupID, remote.ErrPermissionDenied)
		}
	}
	return nil
}

// messageGroup returns the group id of a groups/{id}/messages collection.
func messageGroup(collection string) (string, bool) {
	parts := strings.Split(collection, "/")
	if len(parts) != 3 || parts[0] != remote.GroupsCollection || parts[2] != "messages" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func joinedInBatch(writes []remote.Write, groupID, userID string) bool {
	for _, w := range writes {
		if w.Collection != remote.GroupsCollection || w.ID != groupID {
			continue
		}
		for _, t := range w.Transforms {
			if t.Kind == remote.TransformArrayUnion && t.Field == "memberIds" && slices.Contains(t.Values, any(userID)) {
				return true
			}
		}
	}
	return false
}

func isMember(ctx context.Context, store remote.Store, groupID, userID string) (bool, error) {
	doc, err := store.Get(ctx, remote.GroupsCollection, groupID)
	if errors.Is(err, remote.ErrNoDocument) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	g, err := remote.DecodeGroup(doc)
	if err != nil {
		return false, err
	}
	return g.HasMember(userID), nil
}
