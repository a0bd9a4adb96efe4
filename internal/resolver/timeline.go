package resolver

import (
	"fmt"
	"sync"
	"time"

	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/remote"
)

// Timeline is the render state of one group: the latest confirmed
// snapshot plus the outbox of messages this client submitted.
type Timeline struct {
	groupID string
	now     func() time.Time

	mu        sync.Mutex
	confirmed []domain.Message
	outbox    []PendingMessage
	seq       int64
}

// TimelineOption configures a Timeline.
type TimelineOption func(*Timeline)

// WithClock sets the clock stamped on SubmittedAt.
func WithClock(now func() time.Time) TimelineOption {
	return func(t *Timeline) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTimeline creates an empty timeline for a group.
func NewTimeline(groupID string, opts ...TimelineOption) *Timeline {
	t := &Timeline{groupID: groupID, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GroupID returns the group the timeline renders.
func (t *Timeline) GroupID() string {
	return t.groupID
}

// Submit adds a message to the outbox. Submitting a correlation id that is
// already queued returns the existing entry; a failed entry moves back to
// pending, as with Retry.
func (t *Timeline) Submit(author domain.User, text, correlationID string) PendingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.outbox {
		p := &t.outbox[i]
		if p.CorrelationID != correlationID {
			continue
		}
		if p.Failed {
			p.Failed = false
			p.Error = ""
			p.Attempts++
		}
		return *p
	}
	t.seq++
	p := PendingMessage{
		CorrelationID: correlationID,
		GroupID:       t.groupID,
		AuthorID:      author.ID,
		AuthorName:    author.Name,
		Text:          domain.NormalizeText(text),
		SubmittedAt:   t.now().UTC(),
		Seq:           t.seq,
		Attempts:      1,
	}
	t.outbox = append(t.outbox, p)
	return p
}

// MarkFailed flags an outbox entry as failed. It reports whether the entry
// was found; entries already confirmed are gone from the outbox.
func (t *Timeline) MarkFailed(correlationID string, cause error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.outbox {
		if t.outbox[i].CorrelationID == correlationID {
			t.outbox[i].Failed = true
			if cause != nil {
				t.outbox[i].Error = cause.Error()
			}
			return true
		}
	}
	return false
}

// Retry moves a failed entry back to pending and returns it so the caller
// can resend it with the same correlation id.
func (t *Timeline) Retry(correlationID string) (PendingMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.outbox {
		p := &t.outbox[i]
		if p.CorrelationID != correlationID {
			continue
		}
		if !p.Failed {
			return PendingMessage{}, fmt.Errorf("retry %s: message is not failed", correlationID)
		}
		p.Failed = false
		p.Error = ""
		p.Attempts++
		return *p, nil
	}
	return PendingMessage{}, &domain.Error{Code: domain.CodeNotFound, Op: "retry", ID: correlationID, Message: "no such outbox entry"}
}

// ApplySnapshot replaces the confirmed set and drops outbox entries whose
// correlation id is now confirmed.
func (t *Timeline) ApplySnapshot(messages []domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.confirmed = append([]domain.Message(nil), messages...)

	confirmed := make(map[string]bool, len(messages))
	for _, m := range messages {
		if m.CorrelationID != "" {
			confirmed[m.CorrelationID] = true
		}
	}
	kept := t.outbox[:0]
	for _, p := range t.outbox {
		if !confirmed[p.CorrelationID] {
			kept = append(kept, p)
		}
	}
	t.outbox = kept
}

// ApplyRemote decodes a message snapshot and applies it.
func (t *Timeline) ApplyRemote(snap remote.Snapshot) error {
	msgs, err := DecodeMessages(t.groupID, snap)
	if err != nil {
		return err
	}
	t.ApplySnapshot(msgs)
	return nil
}

// Render returns the merged timeline.
func (t *Timeline) Render() []RenderMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Merge(t.confirmed, t.outbox)
}

// Outbox returns a copy of the unconfirmed entries in submission order.
func (t *Timeline) Outbox() []PendingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]PendingMessage(nil), t.outbox...)
}

// DecodeMessages converts a message snapshot. Documents without a group id
// are attributed to groupID.
func DecodeMessages(groupID string, snap remote.Snapshot) ([]domain.Message, error) {
	out := make([]domain.Message, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		var m domain.Message
		if err := doc.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
		if m.GroupID == "" {
			m.GroupID = groupID
		}
		out = append(out, m)
	}
	return out, nil
}
