package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/fellowship/internal/remote"
)

const heartbeatInterval = 30 * time.Second

// Client is a remote.Store backed by a Hub connection.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	ref     atomic.Int64

	mu        sync.Mutex
	pending   map[string]chan Frame
	listeners map[string]*remote.OrderedListener
	err       error

	done      chan struct{}
	closeOnce sync.Once
}

var _ remote.Store = (*Client)(nil)

// ClientOption configures Dial.
type ClientOption func(*dialConfig)

type dialConfig struct {
	token     string
	heartbeat time.Duration
}

// WithBearerToken sends token in the Authorization header.
func WithBearerToken(token string) ClientOption {
	return func(c *dialConfig) { c.token = token }
}

// WithHeartbeat sets the ping interval. Zero disables pings.
func WithHeartbeat(d time.Duration) ClientOption {
	return func(c *dialConfig) { c.heartbeat = d }
}

// Dial connects to a hub. http and https URLs are rewritten to ws and wss.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	cfg := dialConfig{heartbeat: heartbeatInterval}
	for _, opt := range opts {
		opt(&cfg)
	}

	wsURL := url
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	header := http.Header{}
	if cfg.token != "" {
		header.Set("Authorization", "Bearer "+cfg.token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w: %v", remote.ErrUnavailable, err)
	}
	conn.SetReadLimit(maxFrameBytes)

	c := &Client{
		conn:      conn,
		pending:   make(map[string]chan Frame),
		listeners: make(map[string]*remote.OrderedListener),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	if cfg.heartbeat > 0 {
		go c.heartbeat(cfg.heartbeat)
	}
	return c, nil
}

// Close disconnects from the hub. Pending requests fail and live queries
// end with remote.ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		werr := c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.writeMu.Unlock()
		c.shutdown(remote.ErrClosed)
		if cerr := c.conn.Close(); cerr != nil && werr == nil {
			werr = cerr
		}
		err = werr
	})
	return err
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Get implements remote.Store.
func (c *Client) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	resp, err := c.request(ctx, Frame{Type: FrameGet, Collection: collection, ID: id})
	if err != nil {
		return remote.Document{}, err
	}
	if resp.Document == nil {
		return remote.Document{}, fmt.Errorf("get %s/%s: empty result", collection, id)
	}
	return *resp.Document, nil
}

// Query implements remote.Store.
func (c *Client) Query(ctx context.Context, q remote.Query) (remote.Snapshot, error) {
	if err := q.Validate(); err != nil {
		return remote.Snapshot{}, err
	}
	resp, err := c.request(ctx, Frame{Type: FrameQuery, Query: &q})
	if err != nil {
		return remote.Snapshot{}, err
	}
	if resp.Snapshot == nil {
		return remote.Snapshot{Docs: []remote.Document{}}, nil
	}
	return *resp.Snapshot, nil
}

// Commit implements remote.Store.
func (c *Client) Commit(ctx context.Context, writes ...remote.Write) error {
	if len(writes) == 0 {
		return nil
	}
	for _, w := range writes {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	_, err := c.request(ctx, Frame{Type: FrameCommit, Writes: writes})
	return err
}

// Listen implements remote.Store.
func (c *Client) Listen(ctx context.Context, q remote.Query, fn remote.Listener) (remote.CancelFunc, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	sub := "s" + strconv.FormatInt(c.ref.Add(1), 10)
	l := remote.NewOrderedListener(q, fn)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.listeners[sub] = l
	c.mu.Unlock()
	go l.Run()

	if _, err := c.request(ctx, Frame{Type: FrameListen, Sub: sub, Query: &q}); err != nil {
		c.dropListener(sub)
		return nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if c.dropListener(sub) {
				go c.unlisten(sub)
			}
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

func (c *Client) unlisten(sub string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if _, err := c.request(ctx, Frame{Type: FrameUnlisten, Sub: sub}); err != nil {
		slog.Debug("unlisten failed", "sub", sub, "error", err)
	}
}

// dropListener removes and closes a listener. It reports whether the
// listener was still registered.
func (c *Client) dropListener(sub string) bool {
	c.mu.Lock()
	l, ok := c.listeners[sub]
	delete(c.listeners, sub)
	c.mu.Unlock()
	if ok {
		l.Close()
	}
	return ok
}

func (c *Client) request(ctx context.Context, f Frame) (Frame, error) {
	f.Ref = strconv.FormatInt(c.ref.Add(1), 10)
	ch := make(chan Frame, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return Frame{}, err
	}
	c.pending[f.Ref] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.Ref)
		c.mu.Unlock()
	}()

	if err := c.write(f); err != nil {
		return Frame{}, err
	}

	select {
	case resp := <-ch:
		if resp.Type == FrameError {
			return Frame{}, resp.err()
		}
		return resp, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.done:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		return Frame{}, err
	}
}

func (c *Client) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s: %w: %v", f.Type, remote.ErrUnavailable, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.shutdown(fmt.Errorf("%w: %v", remote.ErrUnavailable, err))
			return
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f.Ref != "" {
		if ch, ok := c.pending[f.Ref]; ok {
			ch <- f
		}
		return
	}
	if f.Sub == "" {
		return
	}
	l, ok := c.listeners[f.Sub]
	if !ok {
		return
	}
	switch f.Type {
	case FrameSnapshot:
		if f.Snapshot != nil {
			l.Push(*f.Snapshot, nil)
		}
	case FrameError:
		l.Push(remote.Snapshot{}, f.err())
		delete(c.listeners, f.Sub)
		l.Close()
	}
}

// shutdown fails everything outstanding with err. Only the first call has
// an effect.
func (c *Client) shutdown(err error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	listeners := c.listeners
	c.listeners = make(map[string]*remote.OrderedListener)
	close(c.done)
	c.mu.Unlock()

	for _, l := range listeners {
		l.Push(remote.Snapshot{}, err)
		l.Close()
	}
}

func (c *Client) heartbeat(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				slog.Debug("heartbeat failed", "error", err)
			}
		}
	}
}
