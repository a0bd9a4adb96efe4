package commands

import (
	"log/slog"

	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/remote"
	"github.com/roach88/fellowship/internal/resolver"
	"github.com/roach88/fellowship/internal/subscription"
)

// Query keys held by a group watch scope.
const (
	queryGroup    = "group"
	queryMessages = "messages"
)

// RenderFunc receives the merged timeline after every change. err is set
// when the message listener failed; the timeline then keeps its last good
// state.
type RenderFunc func(messages []resolver.RenderMessage, err error)

// WatchGroup subscribes consumerID to a group document and its messages.
// Group snapshots refresh the membership cache; message snapshots are
// merged into the group's timeline and rendered. Close the returned scope
// to stop watching.
func (s *Service) WatchGroup(consumerID, groupID string, render RenderFunc) (*subscription.Scope, error) {
	if s.subs == nil {
		return nil, &domain.Error{Code: domain.CodeInvalidCommand, Op: "watch_group", ID: groupID, Message: "subscriptions are not configured"}
	}
	if groupID == "" {
		return nil, &domain.Error{Code: domain.CodeInvalidCommand, Op: "watch_group", Message: "group id is required"}
	}

	scope := s.subs.Scope(consumerID)
	if s.gateway != nil {
		groupQuery := remote.Collection(remote.GroupsCollection).WhereField(remote.FieldID, remote.OpEqual, groupID)
		if _, err := scope.Focus(queryGroup, groupQuery, s.observeGroup); err != nil {
			scope.Close()
			return nil, err
		}
	}

	timeline := s.Timeline(groupID)
	messages := remote.Collection(remote.MessagesCollection(groupID)).OrderedBy("createdAt", remote.Asc)
	_, err := scope.Focus(queryMessages, messages, func(st subscription.State) {
		if st.Failed() {
			slog.Warn("group messages listener failed", "group", groupID, "error", st.Err)
			if render != nil {
				render(timeline.Render(), st.Err)
			}
			return
		}
		if err := timeline.ApplyRemote(st.Snapshot); err != nil {
			slog.Warn("skipping undecodable message snapshot", "group", groupID, "error", err)
			return
		}
		if render != nil {
			render(timeline.Render(), nil)
		}
	})
	if err != nil {
		scope.Close()
		return nil, err
	}
	return scope, nil
}

func (s *Service) observeGroup(st subscription.State) {
	if st.Failed() {
		slog.Warn("group listener failed", "error", st.Err)
		return
	}
	for _, doc := range st.Snapshot.Docs {
		group, err := remote.DecodeGroup(doc)
		if err != nil {
			slog.Warn("skipping undecodable group", "id", doc.ID, "error", err)
			continue
		}
		s.gateway.ObserveGroup(group)
	}
}
