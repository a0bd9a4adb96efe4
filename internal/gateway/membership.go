package gateway

import "sync"

// MembershipState is the client's view of one (group, user) pair.
//
//	NotMember --join--> Joining --ok--> Member
//	                    Joining --fail--> NotMember
//
// Member is terminal for the session: observed snapshots only add members.
type MembershipState int

const (
	NotMember MembershipState = iota
	Joining
	Member
)

func (s MembershipState) String() string {
	switch s {
	case NotMember:
		return "not_member"
	case Joining:
		return "joining"
	case Member:
		return "member"
	}
	return "unknown"
}

type memberKey struct {
	group string
	user  string
}

// joinCall is an in-flight join shared by concurrent callers.
type joinCall struct {
	done chan struct{}
	err  error
}

// membershipCache holds membership states and the groups that have been
// observed at least once.
type membershipCache struct {
	mu       sync.Mutex
	states   map[memberKey]MembershipState
	observed map[string]bool
	joins    map[memberKey]*joinCall
}

func newMembershipCache() *membershipCache {
	return &membershipCache{
		states:   make(map[memberKey]MembershipState),
		observed: make(map[string]bool),
		joins:    make(map[memberKey]*joinCall),
	}
}

func (c *membershipCache) state(k memberKey) MembershipState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[k]
}

func (c *membershipCache) knows(group string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed[group]
}

// union marks every member of group as Member. It never removes one.
func (c *membershipCache) union(group string, members []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed[group] = true
	for _, u := range members {
		c.states[memberKey{group: group, user: u}] = Member
	}
}

// beginJoin returns the call to wait on and whether the caller owns it.
// A nil call means the user is already a member.
func (c *membershipCache) beginJoin(k memberKey) (*joinCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states[k] == Member {
		return nil, false
	}
	if call, ok := c.joins[k]; ok {
		return call, false
	}
	call := &joinCall{done: make(chan struct{})}
	c.joins[k] = call
	c.states[k] = Joining
	return call, true
}

// finishJoin records the outcome of an owned join. A snapshot may have
// promoted the user to Member meanwhile; a failure never demotes that.
func (c *membershipCache) finishJoin(k memberKey, call *joinCall, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err == nil:
		c.states[k] = Member
	case c.states[k] != Member:
		c.states[k] = NotMember
	}
	call.err = err
	delete(c.joins, k)
	close(call.done)
}
