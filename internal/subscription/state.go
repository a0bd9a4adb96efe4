package subscription

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/remote"
)

// State is what a handler receives. Snapshot is always the last good
// result set; on the error path Err is set and Snapshot is the result set
// that was displayed before the failure.
type State struct {
	Snapshot remote.Snapshot
	Diff     Diff
	Version  int64
	Err      *SubscriptionError
}

// Failed reports whether the live query has failed.
func (s State) Failed() bool {
	return s.Err != nil
}

// Diff lists the document ids that changed between two consecutive
// deliveries. It is meant for animating changes only; consumers render
// from Snapshot.
type Diff struct {
	Added    []string
	Modified []string
	Removed  []string
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// ComputeDiff compares two result sets by document id.
func ComputeDiff(prev, next []remote.Document) Diff {
	before := make(map[string]remote.Document, len(prev))
	for _, d := range prev {
		before[d.ID] = d
	}
	d := Diff{Added: []string{}, Modified: []string{}, Removed: []string{}}
	seen := make(map[string]bool, len(next))
	for _, doc := range next {
		seen[doc.ID] = true
		old, ok := before[doc.ID]
		switch {
		case !ok:
			d.Added = append(d.Added, doc.ID)
		case !reflect.DeepEqual(old.Data, doc.Data):
			d.Modified = append(d.Modified, doc.ID)
		}
	}
	for _, doc := range prev {
		if !seen[doc.ID] {
			d.Removed = append(d.Removed, doc.ID)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Modified)
	sort.Strings(d.Removed)
	return d
}

// SubscriptionError reports a failed live query. It matches
// domain.ErrSubscription.
type SubscriptionError struct {
	ConsumerID string
	QueryKey   string
	Err        error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s/%s: %s: %v", e.ConsumerID, e.QueryKey, domain.CodeSubscriptionError, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// Is matches domain.ErrSubscription.
func (e *SubscriptionError) Is(target error) bool {
	return domain.CodeOf(target) == domain.CodeSubscriptionError
}
