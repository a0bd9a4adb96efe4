package domain

import (
	"slices"
	"time"
)

// User identifies the author of a collaborative write.
type User struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Authenticated reports whether the user carries an id.
func (u User) Authenticated() bool {
	return u.ID != ""
}

// Group is a discussion group. MemberIDs is a set; the remote store never
// holds duplicates.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	MemberIDs   []string  `json:"memberIds"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedBy   string    `json:"createdBy"`
}

// HasMember reports whether userID is in the member set.
func (g *Group) HasMember(userID string) bool {
	return slices.Contains(g.MemberIDs, userID)
}

// Message is a confirmed chat message in a group. Messages are immutable
// once created.
type Message struct {
	ID              string    `json:"id"`
	GroupID         string    `json:"groupId"`
	AuthorID        string    `json:"userId"`
	AuthorName      string    `json:"userName"`
	Text            string    `json:"text"`
	ServerTimestamp time.Time `json:"createdAt"`
	CorrelationID   string    `json:"correlationId,omitempty"`
}

// Less orders messages by (ServerTimestamp, ID) ascending.
func (m Message) Less(other Message) bool {
	if !m.ServerTimestamp.Equal(other.ServerTimestamp) {
		return m.ServerTimestamp.Before(other.ServerTimestamp)
	}
	return m.ID < other.ID
}

// CompareMessages is a three-way form of Less for slices.SortFunc.
func CompareMessages(a, b Message) int {
	if c := a.ServerTimestamp.Compare(b.ServerTimestamp); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// Discussion is an open topic any authenticated user may comment on.
// CommentCount is derived from the comments subcollection.
type Discussion struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Topic        string    `json:"topic"`
	CommentCount int       `json:"commentCount"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Comment is a confirmed comment on a discussion.
type Comment struct {
	ID              string    `json:"id"`
	DiscussionID    string    `json:"discussionId"`
	Text            string    `json:"text"`
	AuthorID        string    `json:"userId"`
	AuthorName      string    `json:"userName"`
	ServerTimestamp time.Time `json:"createdAt"`
	CorrelationID   string    `json:"correlationId,omitempty"`
}
