// Package resolver merges confirmed remote messages with the client's
// optimistic outbox into render-ready timelines.
//
// Confirmed messages are ordered by (server timestamp, id). Pending and
// failed entries follow the last confirmed message in submission order. A
// pending entry is replaced by its confirmed form only when a confirmed
// message carries its correlation id; equal text never counts as a match.
package resolver

import (
	"slices"
	"time"

	"github.com/roach88/fellowship/internal/domain"
)

// Status tags a RenderMessage variant.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// RenderMessage is one row of a rendered timeline: Confirmed, Pending or
// Failed.
type RenderMessage interface {
	Status() Status
	// Key is stable across the pending to confirmed transition: the
	// correlation id when known, the message id otherwise.
	Key() string
	Body() string
	Author() string
	isRenderMessage()
}

// Confirmed is a message acknowledged by the remote store.
type Confirmed struct {
	Message domain.Message
}

func (c Confirmed) Status() Status   { return StatusConfirmed }
func (c Confirmed) Body() string     { return c.Message.Text }
func (c Confirmed) Author() string   { return c.Message.AuthorName }
func (c Confirmed) isRenderMessage() {}

func (c Confirmed) Key() string {
	if c.Message.CorrelationID != "" {
		return c.Message.CorrelationID
	}
	return c.Message.ID
}

// Pending is a submitted message awaiting confirmation.
type Pending struct {
	Entry PendingMessage
}

func (p Pending) Status() Status   { return StatusPending }
func (p Pending) Key() string      { return p.Entry.CorrelationID }
func (p Pending) Body() string     { return p.Entry.Text }
func (p Pending) Author() string   { return p.Entry.AuthorName }
func (p Pending) isRenderMessage() {}

// Failed is a submitted message whose write failed. It stays visible so
// the user can retry it.
type Failed struct {
	Entry PendingMessage
}

func (f Failed) Status() Status   { return StatusFailed }
func (f Failed) Key() string      { return f.Entry.CorrelationID }
func (f Failed) Body() string     { return f.Entry.Text }
func (f Failed) Author() string   { return f.Entry.AuthorName }
func (f Failed) isRenderMessage() {}

// PendingMessage is an outbox entry.
type PendingMessage struct {
	CorrelationID string    `json:"correlationId"`
	GroupID       string    `json:"groupId"`
	AuthorID      string    `json:"userId"`
	AuthorName    string    `json:"userName"`
	Text          string    `json:"text"`
	SubmittedAt   time.Time `json:"submittedAt"`
	Seq           int64     `json:"seq"`
	Attempts      int       `json:"attempts"`
	Failed        bool      `json:"failed"`
	Error         string    `json:"error,omitempty"`
}

// Merge builds the render order from confirmed messages and outbox
// entries. Inputs are not modified.
func Merge(confirmed []domain.Message, pending []PendingMessage) []RenderMessage {
	sorted := slices.Clone(confirmed)
	slices.SortStableFunc(sorted, domain.CompareMessages)

	seen := make(map[string]bool, len(sorted))
	out := make([]RenderMessage, 0, len(sorted)+len(pending))
	for _, m := range sorted {
		if m.CorrelationID != "" {
			seen[m.CorrelationID] = true
		}
		out = append(out, Confirmed{Message: m})
	}

	queued := make([]PendingMessage, 0, len(pending))
	for _, p := range pending {
		if !seen[p.CorrelationID] {
			queued = append(queued, p)
		}
	}
	slices.SortStableFunc(queued, func(a, b PendingMessage) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	for _, p := range queued {
		if p.Failed {
			out = append(out, Failed{Entry: p})
		} else {
			out = append(out, Pending{Entry: p})
		}
	}
	return out
}
