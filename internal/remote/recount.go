package remote

import (
	"context"
	"errors"
	"fmt"
)

// recountAttempts bounds how often RecountComments re-reads after losing a
// race with another commit.
const recountAttempts = 5

// RecountComments recomputes a discussion's commentCount from its comment
// collection and writes it back. It returns the new count.
//
// The write is conditioned on the version the comments were read at, so a
// comment committed in between is never overwritten; the count is re-read
// and written again instead.
func RecountComments(ctx context.Context, s Store, discussionID string) (int, error) {
	var lastErr error
	for attempt := 0; attempt < recountAttempts; attempt++ {
		snap, err := s.Query(ctx, Collection(CommentsCollection(discussionID)))
		if err != nil {
			return 0, fmt.Errorf("recount comments: %w", err)
		}
		n := len(snap.Docs)
		err = s.Commit(ctx, Write{
			Op:         OpUpdate,
			Collection: DiscussionsCollection,
			ID:         discussionID,
			Data:       map[string]any{"commentCount": n},
			IfVersion:  snap.Version,
		})
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, ErrConflict) {
			return 0, fmt.Errorf("recount comments: %w", err)
		}
		lastErr = err
	}
	return 0, fmt.Errorf("recount comments: gave up after %d attempts: %w", recountAttempts, lastErr)
}
