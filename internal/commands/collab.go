package commands

import (
	"context"

	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/resolver"
)

// CreateGroup creates a group with the user as its first member.
func (s *Service) CreateGroup(ctx context.Context, user domain.User, name, description string) (Result, error) {
	return guard("create_group", func() (Result, error) {
		if err := s.requireGateway("create_group"); err != nil {
			return Result{}, err
		}
		id, err := s.gateway.CreateGroup(ctx, user, name, description)
		if err != nil {
			return Result{}, err
		}
		return Result{ID: id}, nil
	})
}

// JoinGroup adds the user to a group. Concurrent joins of the same pair
// share one remote write.
func (s *Service) JoinGroup(ctx context.Context, user domain.User, groupID string) (Result, error) {
	return guard("join_group", func() (Result, error) {
		if err := s.requireGateway("join_group"); err != nil {
			return Result{}, err
		}
		if !user.Authenticated() {
			return Result{}, &domain.Error{Code: domain.CodeUnauthenticated, Op: "join_group", ID: groupID, Message: "sign in required"}
		}
		if err := s.gateway.Join(ctx, groupID, user.ID); err != nil {
			return Result{}, err
		}
		return Result{ID: groupID}, nil
	})
}

// SendGroupMessage queues text in the group's timeline as pending and
// posts it. A failed post stays in the timeline as failed so it can be
// retried with RetryGroupMessage. An empty correlationID is generated.
func (s *Service) SendGroupMessage(ctx context.Context, user domain.User, groupID, text, correlationID string) (Result, error) {
	return guard("send_group_message", func() (Result, error) {
		if err := s.requireGateway("send_group_message"); err != nil {
			return Result{}, err
		}
		if !user.Authenticated() {
			return Result{}, &domain.Error{Code: domain.CodeUnauthenticated, Op: "send_group_message", ID: groupID, Message: "sign in required"}
		}
		text = domain.NormalizeText(text)
		if groupID == "" || text == "" {
			return Result{}, &domain.Error{Code: domain.CodeInvalidCommand, Op: "send_group_message", ID: groupID, Message: "group id and text are required"}
		}
		if correlationID == "" {
			correlationID = s.ids.Generate()
		}

		entry := s.Timeline(groupID).Submit(user, text, correlationID)
		return s.post(ctx, user, groupID, entry)
	})
}

// RetryGroupMessage re-posts a failed timeline entry under its original
// correlation id.
func (s *Service) RetryGroupMessage(ctx context.Context, user domain.User, groupID, correlationID string) (Result, error) {
	return guard("retry_group_message", func() (Result, error) {
		if err := s.requireGateway("retry_group_message"); err != nil {
			return Result{}, err
		}
		entry, err := s.Timeline(groupID).Retry(correlationID)
		if err != nil {
			return Result{}, err
		}
		return s.post(ctx, user, groupID, entry)
	})
}

func (s *Service) post(ctx context.Context, user domain.User, groupID string, entry resolver.PendingMessage) (Result, error) {
	id, err := s.gateway.Post(ctx, groupID, user, entry.Text, entry.CorrelationID)
	if err != nil {
		s.Timeline(groupID).MarkFailed(entry.CorrelationID, err)
		return Result{CorrelationID: entry.CorrelationID}, err
	}
	return Result{ID: id, CorrelationID: entry.CorrelationID}, nil
}

// CreateDiscussion opens a discussion.
func (s *Service) CreateDiscussion(ctx context.Context, user domain.User, title, topic string) (Result, error) {
	return guard("create_discussion", func() (Result, error) {
		if err := s.requireGateway("create_discussion"); err != nil {
			return Result{}, err
		}
		id, err := s.gateway.CreateDiscussion(ctx, user, title, topic)
		if err != nil {
			return Result{}, err
		}
		return Result{ID: id}, nil
	})
}

// SendComment comments on a discussion. An empty correlationID is
// generated.
func (s *Service) SendComment(ctx context.Context, user domain.User, discussionID, text, correlationID string) (Result, error) {
	return guard("send_comment", func() (Result, error) {
		if err := s.requireGateway("send_comment"); err != nil {
			return Result{}, err
		}
		if correlationID == "" {
			correlationID = s.ids.Generate()
		}
		id, err := s.gateway.Comment(ctx, discussionID, user, text, correlationID)
		if err != nil {
			return Result{CorrelationID: correlationID}, err
		}
		return Result{ID: id, CorrelationID: correlationID}, nil
	})
}

// RecountComments repairs a discussion's commentCount from its comments.
func (s *Service) RecountComments(ctx context.Context, discussionID string) (Result, error) {
	return guard("recount_comments", func() (Result, error) {
		if err := s.requireGateway("recount_comments"); err != nil {
			return Result{}, err
		}
		n, err := s.gateway.RecountComments(ctx, discussionID)
		if err != nil {
			return Result{}, err
		}
		return Result{ID: discussionID, Count: n}, nil
	})
}
