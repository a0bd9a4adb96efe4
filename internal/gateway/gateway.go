// Package gateway performs collaborative writes against the remote store
// and enforces the membership rule: only members may post into a group,
// while any authenticated user may comment on a discussion.
//
// Post consults the local membership cache before anything else. A user
// who is not a member gets NotMember immediately and no remote write is
// attempted; the gateway never joins on the user's behalf.
//
// Message and comment ids are derived from the caller's correlation id, so
// retrying a write addresses the same document and cannot duplicate it.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/ids"
	"github.com/roach88/fellowship/internal/metrics"
	"github.com/roach88/fellowship/internal/remote"
)

// DefaultJoinTimeout bounds a join that the caller stopped waiting for.
const DefaultJoinTimeout = 15 * time.Second

// Gateway is safe for concurrent use.
type Gateway struct {
	store       remote.Store
	groups      *remote.GroupCache
	ids         ids.Generator
	joinTimeout time.Duration
	members     *membershipCache
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithGroupCache lets Post load memberships of groups the gateway has not
// observed yet. The load is a read; it never writes.
func WithGroupCache(c *remote.GroupCache) Option {
	return func(g *Gateway) { g.groups = c }
}

// WithIDGenerator sets the generator for group and discussion ids.
func WithIDGenerator(gen ids.Generator) Option {
	return func(g *Gateway) { g.ids = gen }
}

// WithJoinTimeout bounds each join.
func WithJoinTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.joinTimeout = d }
}

// New creates a gateway writing to store.
func New(store remote.Store, opts ...Option) *Gateway {
	g := &Gateway{
		store:       store,
		ids:         ids.UUIDv7Generator{},
		joinTimeout: DefaultJoinTimeout,
		members:     newMembershipCache(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Membership returns the cached state for (groupID, userID).
func (g *Gateway) Membership(groupID, userID string) MembershipState {
	return g.members.state(memberKey{group: groupID, user: userID})
}

// ObserveGroup merges a group snapshot into the membership cache by
// union. Members absent from the snapshot keep their state.
func (g *Gateway) ObserveGroup(group *domain.Group) {
	g.members.union(group.ID, group.MemberIDs)
	if g.groups != nil {
		g.groups.Put(group)
	}
}

// Join adds userID to the group's member set. Joining twice is not an
// error. If ctx ends first Join returns JoinFailed, but the join itself
// still runs to completion in the background and settles the cache state.
func (g *Gateway) Join(ctx context.Context, groupID, userID string) error {
	if userID == "" {
		return unauthenticated("join", groupID)
	}
	if groupID == "" {
		return invalid("join", "group id is required")
	}

	k := memberKey{group: groupID, user: userID}
	call, owner := g.members.beginJoin(k)
	if call == nil {
		metrics.RecordGatewayWrite("join", "already_member")
		return nil
	}
	if owner {
		go g.runJoin(context.WithoutCancel(ctx), k, call)
	}

	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return &domain.Error{Code: domain.CodeJoinFailed, Op: "join", ID: groupID, Message: "caller gave up", Err: ctx.Err()}
	}
}

func (g *Gateway) runJoin(ctx context.Context, k memberKey, call *joinCall) {
	ctx, cancel := context.WithTimeout(ctx, g.joinTimeout)
	defer cancel()

	err := g.store.Commit(ctx, remote.Write{
		Op:         remote.OpUpdate,
		Collection: remote.GroupsCollection,
		ID:         k.group,
		Transforms: []remote.Transform{remote.ArrayUnion("memberIds", k.user)},
	})
	if err != nil {
		slog.Warn("join failed", "group", k.group, "user", k.user, "error", err)
		metrics.RecordGatewayWrite("join", string(domain.CodeJoinFailed))
		err = &domain.Error{Code: domain.CodeJoinFailed, Op: "join", ID: k.group, Err: err}
	} else {
		metrics.RecordGatewayWrite("join", "")
		if g.groups != nil {
			g.groups.Invalidate(k.group)
		}
	}
	g.members.finishJoin(k, call, err)
}

// Post sends a message to a group and returns its id. The user must
// already be a member.
func (g *Gateway) Post(ctx context.Context, groupID string, user domain.User, text, correlationID string) (string, error) {
	if !user.Authenticated() {
		return "", unauthenticated("post", groupID)
	}
	text = domain.NormalizeText(text)
	switch {
	case groupID == "":
		return "", invalid("post", "group id is required")
	case text == "":
		return "", invalid("post", "message text is required")
	case correlationID == "":
		return "", invalid("post", "correlation id is required")
	}

	if !g.isMember(ctx, groupID, user.ID) {
		metrics.RecordGatewayWrite("post", string(domain.CodeNotMember))
		return "", &domain.Error{Code: domain.CodeNotMember, Op: "post", ID: groupID, Message: "join the group first"}
	}

	id := domain.MessageID(groupID, correlationID)
	err := g.store.Commit(ctx, remote.Write{
		Op:         remote.OpCreate,
		Collection: remote.MessagesCollection(groupID),
		ID:         id,
		Data: map[string]any{
			"groupId":       groupID,
			"text":          text,
			"userId":        user.ID,
			"userName":      user.Name,
			"correlationId": correlationID,
		},
		Transforms: []remote.Transform{remote.ServerTimestamp("createdAt")},
	})
	if errors.Is(err, remote.ErrAlreadyExists) {
		metrics.RecordGatewayWrite("post", "replayed")
		return id, nil
	}
	if errors.Is(err, remote.ErrPermissionDenied) {
		metrics.RecordGatewayWrite("post", string(domain.CodeNotMember))
		return "", &domain.Error{Code: domain.CodeNotMember, Op: "post", ID: groupID, Err: err}
	}
	if err != nil {
		metrics.RecordGatewayWrite("post", string(domain.CodePostFailed))
		return "", &domain.Error{Code: domain.CodePostFailed, Op: "post", ID: groupID, Err: err}
	}
	metrics.RecordGatewayWrite("post", "")
	return id, nil
}

// isMember answers from the cache. Groups never observed are loaded once
// through the group cache when one is configured.
func (g *Gateway) isMember(ctx context.Context, groupID, userID string) bool {
	k := memberKey{group: groupID, user: userID}
	if g.members.state(k) == Member {
		return true
	}
	if g.groups == nil || g.members.knows(groupID) {
		return false
	}
	group, err := g.groups.Get(ctx, groupID)
	if err != nil {
		slog.Debug("membership lookup failed", "group", groupID, "error", err)
		return false
	}
	g.members.union(group.ID, group.MemberIDs)
	return g.members.state(k) == Member
}

// CreateGroup creates a group whose first member is its creator.
func (g *Gateway) CreateGroup(ctx context.Context, user domain.User, name, description string) (string, error) {
	if !user.Authenticated() {
		return "", unauthenticated("create_group", "")
	}
	name = domain.NormalizeText(name)
	if name == "" {
		return "", invalid("create_group", "group name is required")
	}

	id := g.ids.Generate()
	err := g.store.Commit(ctx, remote.Write{
		Op:         remote.OpCreate,
		Collection: remote.GroupsCollection,
		ID:         id,
		Data: map[string]any{
			"name":        name,
			"description": domain.NormalizeText(description),
			"memberIds":   []string{user.ID},
			"createdBy":   user.ID,
		},
		Transforms: []remote.Transform{remote.ServerTimestamp("createdAt")},
	})
	if err != nil {
		metrics.RecordGatewayWrite("create_group", string(domain.CodePostFailed))
		return "", &domain.Error{Code: domain.CodePostFailed, Op: "create_group", Err: err}
	}
	metrics.RecordGatewayWrite("create_group", "")
	g.members.union(id, []string{user.ID})
	return id, nil
}

// CreateDiscussion opens a discussion with a zero comment count.
func (g *Gateway) CreateDiscussion(ctx context.Context, user domain.User, title, topic string) (string, error) {
	if !user.Authenticated() {
		return "", unauthenticated("create_discussion", "")
	}
	title = domain.NormalizeText(title)
	if title == "" {
		return "", invalid("create_discussion", "discussion title is required")
	}

	id := g.ids.Generate()
	err := g.store.Commit(ctx, remote.Write{
		Op:         remote.OpCreate,
		Collection: remote.DiscussionsCollection,
		ID:         id,
		Data: map[string]any{
			"title":        title,
			"topic":        domain.NormalizeText(topic),
			"commentCount": 0,
			"createdBy":    user.ID,
		},
		Transforms: []remote.Transform{remote.ServerTimestamp("createdAt")},
	})
	if err != nil {
		metrics.RecordGatewayWrite("create_discussion", string(domain.CodePostFailed))
		return "", &domain.Error{Code: domain.CodePostFailed, Op: "create_discussion", Err: err}
	}
	metrics.RecordGatewayWrite("create_discussion", "")
	return id, nil
}

// Comment adds a comment to a discussion. The comment and the
// commentCount increment are one atomic batch, and a retried correlation
// id neither duplicates the comment nor counts it twice.
func (g *Gateway) Comment(ctx context.Context, discussionID string, user domain.User, text, correlationID string) (string, error) {
	if !user.Authenticated() {
		return "", unauthenticated("comment", discussionID)
	}
	text = domain.NormalizeText(text)
	switch {
	case discussionID == "":
		return "", invalid("comment", "discussion id is required")
	case text == "":
		return "", invalid("comment", "comment text is required")
	case correlationID == "":
		return "", invalid("comment", "correlation id is required")
	}

	id := domain.CommentID(discussionID, correlationID)
	err := g.store.Commit(ctx,
		remote.Write{
			Op:         remote.OpCreate,
			Collection: remote.CommentsCollection(discussionID),
			ID:         id,
			Data: map[string]any{
				"discussionId":  discussionID,
				"text":          text,
				"userId":        user.ID,
				"userName":      user.Name,
				"correlationId": correlationID,
			},
			Transforms: []remote.Transform{remote.ServerTimestamp("createdAt")},
		},
		remote.Write{
			Op:         remote.OpUpdate,
			Collection: remote.DiscussionsCollection,
			ID:         discussionID,
			Transforms: []remote.Transform{remote.Increment("commentCount", 1)},
		},
	)
	switch {
	case errors.Is(err, remote.ErrAlreadyExists):
		metrics.RecordGatewayWrite("comment", "replayed")
		return id, nil
	case errors.Is(err, remote.ErrNoDocument):
		metrics.RecordGatewayWrite("comment", string(domain.CodeNotFound))
		return "", &domain.Error{Code: domain.CodeNotFound, Op: "comment", ID: discussionID, Message: "no such discussion", Err: err}
	case err != nil:
		metrics.RecordGatewayWrite("comment", string(domain.CodePostFailed))
		return "", &domain.Error{Code: domain.CodePostFailed, Op: "comment", ID: discussionID, Err: err}
	}
	metrics.RecordGatewayWrite("comment", "")
	return id, nil
}

// RecountComments recomputes a discussion's commentCount from its
// comments and returns it. Comments committed while the recount runs are
// included, never lost.
func (g *Gateway) RecountComments(ctx context.Context, discussionID string) (int, error) {
	if discussionID == "" {
		return 0, invalid("recount_comments", "discussion id is required")
	}
	n, err := remote.RecountComments(ctx, g.store, discussionID)
	switch {
	case errors.Is(err, remote.ErrNoDocument):
		metrics.RecordGatewayWrite("recount_comments", string(domain.CodeNotFound))
		return 0, &domain.Error{Code: domain.CodeNotFound, Op: "recount_comments", ID: discussionID, Message: "no such discussion", Err: err}
	case err != nil:
		metrics.RecordGatewayWrite("recount_comments", string(domain.CodePostFailed))
		return 0, &domain.Error{Code: domain.CodePostFailed, Op: "recount_comments", ID: discussionID, Err: err}
	}
	metrics.RecordGatewayWrite("recount_comments", "")
	return n, nil
}

func unauthenticated(op, id string) error {
	return &domain.Error{Code: domain.CodeUnauthenticated, Op: op, ID: id, Message: "sign in required"}
}

func invalid(op, msg string) error {
	return &domain.Error{Code: domain.CodeInvalidCommand, Op: op, Message: msg}
}
