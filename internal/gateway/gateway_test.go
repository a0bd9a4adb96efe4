package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/ids"
	"github.com/roach88/fellowship/internal/remote"
)

var (
	alice = domain.User{ID: "u-alice", Name: "Alice"}
	bob   = domain.User{ID: "u-bob", Name: "Bob"}
)

func setup(t *testing.T, opts ...Option) (*Gateway, *remote.MemoryStore) {
	t.Helper()
	store := remote.NewMemoryStore()
	opts = append([]Option{WithIDGenerator(ids.NewSequenceGenerator("id"))}, opts...)
	return New(store, opts...), store
}

func memberIDs(t *testing.T, store *remote.MemoryStore, groupID string) []any {
	t.Helper()
	doc, err := store.Get(context.Background(), remote.GroupsCollection, groupID)
	require.NoError(t, err)
	return doc.Data["memberIds"].([]any)
}

func TestCreateGroup_CreatorIsMember(t *testing.T) {
	g, store := setup(t)
	ctx := context.Background()

	id, err := g.CreateGroup(ctx, alice, "Youth", "Friday nights")
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)
	assert.Equal(t, Member, g.Membership(id, alice.ID))
	assert.Equal(t, []any{alice.ID}, memberIDs(t, store, id))

	doc, err := store.Get(ctx, remote.GroupsCollection, id)
	require.NoError(t, err)
	group, err := remote.DecodeGroup(doc)
	require.NoError(t, err)
	assert.Equal(t, "Youth", group.Name)
	assert.False(t, group.CreatedAt.IsZero())
}

func TestPost_NonMemberMakesNoRemoteWrite(t *testing.T) {
	g, store := setup(t)

	_, err := g.Post(context.Background(), "42", bob, "hello", "c1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotMember)
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, 0, store.Commits())
}

func TestPost_JoiningIsNotMember(t *testing.T) {
	g, store := setup(t)

	k := memberKey{group: "g1", user: bob.ID}
	call, owner := g.members.beginJoin(k)
	require.True(t, owner)
	require.NotNil(t, call)
	assert.Equal(t, Joining, g.Membership("g1", bob.ID))

	_, err := g.Post(context.Background(), "g1", bob, "hi", "c1")
	assert.ErrorIs(t, err, domain.ErrNotMember)
	assert.Equal(t, 0, store.Commits())
}

func TestJoinThenPost(t *testing.T) {
	g, store := setup(t)
	ctx := context.Background()

	groupID, err := g.CreateGroup(ctx, alice, "Youth", "")
	require.NoError(t, err)

	require.NoError(t, g.Join(ctx, groupID, bob.ID))
	assert.Equal(t, Member, g.Membership(groupID, bob.ID))
	assert.Equal(t, []any{alice.ID, bob.ID}, memberIDs(t, store, groupID))

	id, err := g.Post(ctx, groupID, bob, "  hello  ", "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageID(groupID, "c1"), id)

	doc, err := store.Get(ctx, remote.MessagesCollection(groupID), id)
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.Data["text"])
	assert.Equal(t, bob.ID, doc.Data["userId"])
	assert.Equal(t, "Bob", doc.Data["userName"])
	assert.Equal(t, "c1", doc.Data["correlationId"])
	assert.NotEmpty(t, doc.Data["createdAt"])
}

func TestJoin_Idempotent(t *testing.T) {
	g, store := setup(t)
	ctx := context.Background()
	groupID, err := g.CreateGroup(ctx, alice, "Youth", "")
	require.NoError(t, err)

	require.NoError(t, g.Join(ctx, groupID, bob.ID))
	require.NoError(t, g.Join(ctx, groupID, bob.ID))

	// A second gateway (another device) joining again still leaves one entry.
	other := New(store)
	require.NoError(t, other.Join(ctx, groupID, bob.ID))

	members := memberIDs(t, store, groupID)
	count := 0
	for _, m := range members {
		if m == bob.ID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestJoin_ConcurrentCallsShareOneWrite(t *testing.T) {
	g, store := setup(t)
	ctx := context.Background()
	groupID, err := g.CreateGroup(ctx, alice, "Youth", "")
	require.NoError(t, err)
	before := store.Commits()

	release := make(chan struct{})
	store.SetCommitFault(func([]remote.Write) error {
		<-release
		return nil
	})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = g.Join(ctx, groupID, bob.ID)
		}(i)
	}
	assert.Eventually(t, func() bool { return g.Membership(groupID, bob.ID) == Joining }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, before+1, store.Commits())
}

func TestJoin_FailureReturnsToNotMember(t *testing.T) {
	g, store := setup(t)
	store.SetCommitFault(func([]remote.Write) error { return remote.ErrUnavailable })

	err := g.Join(context.Background(), "g1", bob.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJoinFailed)
	assert.ErrorIs(t, err, remote.ErrUnavailable)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, NotMember, g.Membership("g1", bob.ID))
}

func TestJoin_MissingGroup(t *testing.T) {
	g, _ := setup(t)
	err := g.Join(context.Background(), "nope", bob.ID)
	assert.ErrorIs(t, err, domain.ErrJoinFailed)
	assert.ErrorIs(t, err, remote.ErrNoDocument)
}

func TestJoin_AbandonedCallerStillSettles(t *testing.T) {
	g, store := setup(t)
	ctx := context.Background()
	groupID, err := g.CreateGroup(ctx, alice, "Youth", "")
	require.NoError(t, err)

	release := make(chan struct{})
	store.SetCommitFault(func([]remote.Write) error {
		<-release
		return nil
	})

	callerCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- g.Join(callerCtx, groupID, bob.ID) }()
	assert.Eventually(t, func() bool { return g.Membership(groupID, bob.ID) == Joining }, time.Second, time.Millisecond)

	cancel()
	err = <-done
	assert.ErrorIs(t, err, domain.ErrJoinFailed)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	assert.Eventually(t, func() bool { return g.Membership(groupID, bob.ID) == Member }, time.Second, time.Millisecond)
}

func TestJoin_TimeoutSettlesNotMember(t *testing.T) {
	g, store := setup(t, WithJoinTimeout(20*time.Millisecond))
	// The remote honours the deadline by failing with it.
	store.SetCommitFault(func([]remote.Write) error {
		time.Sleep(50 * time.Millisecond)
		return context.DeadlineExceeded
	})

	err := g.Join(context.Background(), "g1", bob.ID)
	assert.ErrorIs(t, err, domain.ErrJoinFailed)
	assert.Equal(t, NotMember, g.Membership("g1", bob.ID))
}

func TestObserveGroup_UnionOnly(t *testing.T) {
	g, _ := setup(t)

	g.ObserveGroup(&domain.Group{ID: "g1", MemberIDs: []string{alice.ID, bob.ID}})
	assert.Equal(t, Member, g.Membership("g1", bob.ID))

	// A later snapshot without bob never demotes him this session.
	g.ObserveGroup(&domain.Group{ID: "g1", MemberIDs: []string{alice.ID}})
	assert.Equal(t, Member, g.Membership("g1", bob.ID))
}

func TestObserveGroup_PromotesDuringJoin(t *testing.T) {
	g, _ := setup(t)
	k := memberKey{group: "g1", user: bob.ID}
	call, owner := g.members.beginJoin(k)
	require.True(t, owner)

	g.ObserveGroup(&domain.Group{ID: "g1", MemberIDs: []string{bob.ID}})
	g.members.finishJoin(k, call, errors.New("timeout"))
	assert.Equal(t, Member, g.Membership("g1", bob.ID), "a failed join never demotes an observed member")
}

func TestPost_LoadsUnobservedGroupThroughCache(t *testing.T) {
	store := remote.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Commit(ctx, remote.Write{
		Op: remote.OpCreate, Collection: remote.GroupsCollection, ID: "g1",
		Data: map[string]any{"name": "Youth", "memberIds": []string{bob.ID}},
	}))
	commitsBefore := store.Commits()

	g := New(store, WithGroupCache(remote.NewGroupCache(store, time.Minute, 8)))
	_, err := g.Post(ctx, "g1", alice, "hi", "c1")
	assert.ErrorIs(t, err, domain.ErrNotMember)
	assert.Equal(t, commitsBefore, store.Commits())

	_, err = g.Post(ctx, "g1", bob, "hi", "c2")
	require.NoError(t, err)
}

func TestPost_RetryWithSameCorrelationIDDoesNotDuplicate(t *testing.T) {
	g, store := setup(t)
	ctx := context.Background()
	groupID, err := g.CreateGroup(ctx, alice, "Youth", "")
	require.NoError(t, err)

	first, err := g.Post(ctx, groupID, alice, "hello", "c1")
	require.NoError(t, err)
	second, err := g.Post(ctx, groupID, alice, "hello", "c1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	snap, err := store.Query(ctx, remote.Collection(remote.MessagesCollection(groupID)))
	require.NoError(t, err)
	assert.Len(t, snap.Docs, 1)
}

func TestPost_RemoteFailureIsPostFailed(t *testing.T) {
	g, store := setup(t)
	ctx := context.Background()
	groupID, err := g.CreateGroup(ctx, alice, "Youth", "")
	require.NoError(t, err)
	store.SetCommitFault(func([]remote.Write) error { return remote.ErrUnavailable })

	_, err = g.Post(ctx, groupID, alice, "hello", "c1")
	assert.ErrorIs(t, err, domain.ErrPostFailed)
	assert.True(t, domain.IsRetryable(err))
}

func TestPost_ServerDeniedIsNotMember(t *testing.T) {
	g, store := setup(t)
	ctx := context.Background()
	groupID, err := g.CreateGroup(ctx, alice, "Youth", "")
	require.NoError(t, err)
	store.SetCommitFault(func([]remote.Write) error { return remote.ErrPermissionDenied })

	_, err = g.Post(ctx, groupID, alice, "hello", "c1")
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.CodeNotMember, de.Code)
	assert.ErrorIs(t, err, remote.ErrPermissionDenied)
}

func TestPost_Validation(t *testing.T) {
	g, _ := setup(t)
	ctx := context.Background()
	g.ObserveGroup(&domain.Group{ID: "g1", MemberIDs: []string{alice.ID}})

	_, err := g.Post(ctx, "g1", domain.User{}, "hi", "c1")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = g.Post(ctx, "g1", alice, "   ", "c1")
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)
	_, err = g.Post(ctx, "g1", alice, "hi", "")
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)
}

func TestDiscussionComments(t *testing.T) {
	g, store := setup(t)
	ctx := context.Background()

	did, err := g.CreateDiscussion(ctx, alice, "Sermon notes", "Sunday")
	require.NoError(t, err)

	// Any authenticated user may comment; membership is not required.
	_, err = g.Comment(ctx, did, bob, "Great point", "k1")
	require.NoError(t, err)
	_, err = g.Comment(ctx, did, alice, "Agreed", "k2")
	require.NoError(t, err)
	_, err = g.Comment(ctx, did, bob, "Great point", "k1") // retry
	require.NoError(t, err)

	doc, err := store.Get(ctx, remote.DiscussionsCollection, did)
	require.NoError(t, err)
	assert.Equal(t, float64(2), doc.Data["commentCount"])

	snap, err := store.Query(ctx, remote.Collection(remote.CommentsCollection(did)))
	require.NoError(t, err)
	assert.Len(t, snap.Docs, 2)
}

func TestComment_RequiresAuthentication(t *testing.T) {
	g, store := setup(t)
	_, err := g.Comment(context.Background(), "d1", domain.User{Name: "anon"}, "hi", "k1")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Equal(t, 0, store.Commits())
}

func TestComment_MissingDiscussion(t *testing.T) {
	g, store := setup(t)
	_, err := g.Comment(context.Background(), "nope", alice, "hi", "k1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	snap, err := store.Query(context.Background(), remote.Collection(remote.CommentsCollection("nope")))
	require.NoError(t, err)
	assert.Empty(t, snap.Docs, "comment must not land without its counter")
}

func TestRecountComments_RepairsDrift(t *testing.T) {
	g, store := setup(t)
	ctx := context.Background()

	did, err := g.CreateDiscussion(ctx, alice, "Sermon notes", "Sunday")
	require.NoError(t, err)
	_, err = g.Comment(ctx, did, bob, "Great point", "k1")
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, remote.Write{
		Op:         remote.OpCreate,
		Collection: remote.CommentsCollection(did),
		ID:         "uncounted",
		Data:       map[string]any{"text": "from an old client"},
	}))

	n, err := g.RecountComments(ctx, did)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	doc, err := store.Get(ctx, remote.DiscussionsCollection, did)
	require.NoError(t, err)
	assert.Equal(t, float64(2), doc.Data["commentCount"])

	_, err = g.RecountComments(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = g.RecountComments(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)
}

func TestMembershipStateString(t *testing.T) {
	assert.Equal(t, "not_member", NotMember.String())
	assert.Equal(t, "joining", Joining.String())
	assert.Equal(t, "member", Member.String())
}
