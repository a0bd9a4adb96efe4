// Package commands is the surface UI collaborators call. Each Command is
// validated, routed to the local store (offline entities) or the write
// gateway (collaborative entities), and answered with a Result and a typed
// *domain.Error. A panic inside a Command is converted to an INTERNAL
// error and never reaches the caller.
package commands

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/gateway"
	"github.com/roach88/fellowship/internal/ids"
	"github.com/roach88/fellowship/internal/localstore"
	"github.com/roach88/fellowship/internal/resolver"
	"github.com/roach88/fellowship/internal/subscription"
)

// Result describes a successful Command, or a Command whose primary write
// committed while a follow-up failed (see ProjectionFailed).
type Result struct {
	ID            string      `json:"id"`
	Kind          domain.Kind `json:"kind,omitempty"`
	Revision      int64       `json:"revision,omitempty"`
	Replayed      bool        `json:"replayed,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
	// Count is set by RecountComments.
	Count int `json:"count,omitempty"`
}

// ListResult is a collection read. On a storage failure Items is empty and
// LoadError is set, so the UI can show "couldn't load" instead of an empty
// state.
type ListResult[T any] struct {
	Items     []T   `json:"items"`
	LoadError error `json:"-"`
}

// Service executes Commands.
type Service struct {
	local   *localstore.Store
	gateway *gateway.Gateway
	subs    *subscription.Manager
	ids     ids.Generator
	now     func() time.Time

	mu        sync.Mutex
	timelines map[string]*resolver.Timeline
}

// Option configures a Service.
type Option func(*Service)

// WithGateway enables collaborative Commands.
func WithGateway(g *gateway.Gateway) Option {
	return func(s *Service) { s.gateway = g }
}

// WithSubscriptions enables live group timelines.
func WithSubscriptions(m *subscription.Manager) Option {
	return func(s *Service) { s.subs = m }
}

// WithIDGenerator sets the generator for entity and correlation ids.
func WithIDGenerator(gen ids.Generator) Option {
	return func(s *Service) { s.ids = gen }
}

// WithNow sets the clock used for createdAt fields.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service over a local store.
func New(local *localstore.Store, opts ...Option) *Service {
	s := &Service{
		local:     local,
		ids:       ids.UUIDv7Generator{},
		now:       time.Now,
		timelines: make(map[string]*resolver.Timeline),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timeline returns the render timeline of a group, creating it on first
// use.
func (s *Service) Timeline(groupID string) *resolver.Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timelines[groupID]
	if !ok {
		t = resolver.NewTimeline(groupID, resolver.WithClock(s.now))
		s.timelines[groupID] = t
	}
	return t
}

func (s *Service) requireGateway(op string) error {
	if s.gateway == nil {
		return &domain.Error{Code: domain.CodeInvalidCommand, Op: op, Message: "collaborative commands are not configured"}
	}
	return nil
}

// guard runs fn and converts a panic into an INTERNAL error.
func guard(op string, fn func() (Result, error)) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("command panicked", "op", op, "panic", r, "stack", string(debug.Stack()))
			res = Result{}
			err = &domain.Error{Code: domain.CodeInternal, Op: op, Message: fmt.Sprint(r)}
		}
	}()
	return fn()
}
