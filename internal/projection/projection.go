// Package projection keeps derived collections consistent with their
// sources. Publishing an Event or Ministry mirrors it into the
// announcement feed.
//
// The Engine is a localstore.CommitHook: it runs inside the source write's
// transaction, so a successful projection commits atomically with its
// source. Every firing is claimed in the projections table under
// UNIQUE(source_kind, source_id, rule_id) before anything is written, which
// makes re-running a rule for the same source a no-op.
package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/localstore"
	"github.com/roach88/fellowship/internal/metrics"
)

// Rule IDs of the built-in rules.
const (
	RuleEventAnnouncement    = "event-announcement"
	RuleMinistryAnnouncement = "ministry-announcement"
)

// Rule projects entities of one source kind into announcements.
type Rule struct {
	// ID identifies the rule in the projections table. Must be unique.
	ID string

	// Source is the kind the rule watches.
	Source domain.Kind

	// Type tags the projected announcement.
	Type domain.AnnouncementType

	// Applies reports whether entity should be projected. Nil means
	// "public entities only".
	Applies func(entity domain.Entity) bool
}

func (r Rule) applies(entity domain.Entity) bool {
	if r.Applies != nil {
		return r.Applies(entity)
	}
	p, ok := entity.(domain.Publishable)
	return ok && p.IsPublic()
}

// DefaultRules mirrors public Events and Ministries into the feed.
func DefaultRules() []Rule {
	return []Rule{
		{ID: RuleEventAnnouncement, Source: domain.KindEvent, Type: domain.AnnouncementEvent},
		{ID: RuleMinistryAnnouncement, Source: domain.KindMinistry, Type: domain.AnnouncementMinistry},
	}
}

// Engine evaluates rules in declaration order.
type Engine struct {
	rules []Rule
}

// New creates an Engine. The rules slice is copied so its order cannot
// change after construction.
func New(rules ...Rule) (*Engine, error) {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("projection rule for %s has no id", r.Source)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate projection rule id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return &Engine{rules: append([]Rule(nil), rules...)}, nil
}

// Rules returns the rules in evaluation order.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// OnEntityCommitted implements localstore.CommitHook.
func (e *Engine) OnEntityCommitted(ctx context.Context, tx *localstore.Tx, kind domain.Kind, entity domain.Entity) error {
	for _, r := range e.rules {
		if r.Source != kind || !r.applies(entity) {
			continue
		}
		if err := e.fire(ctx, tx, r, entity); err != nil {
			metrics.RecordProjection(r.ID, metrics.ProjectionFailed)
			return &domain.Error{
				Code:    domain.CodeProjectionFailed,
				Op:      "project",
				Kind:    kind,
				ID:      entity.EntityID(),
				Message: "rule " + r.ID,
				Err:     err,
			}
		}
	}
	return nil
}

func (e *Engine) fire(ctx context.Context, tx *localstore.Tx, r Rule, entity domain.Entity) error {
	ann, err := announcementFor(r, entity)
	if err != nil {
		return err
	}

	inserted, existing, err := tx.ClaimProjection(ctx, localstore.ProjectionRecord{
		SourceKind: r.Source,
		SourceID:   entity.EntityID(),
		RuleID:     r.ID,
		TargetKind: domain.KindAnnouncement,
		TargetID:   ann.ID,
	})
	if err != nil {
		return err
	}

	if inserted {
		if err := tx.Put(ctx, ann); err != nil {
			return err
		}
		metrics.RecordProjection(r.ID, metrics.ProjectionCreated)
		slog.Debug("projected announcement", "rule", r.ID, "source", entity.EntityID(), "announcement", ann.ID)
		return nil
	}

	// Already fired: keep the single mirror in step with its source.
	metrics.RecordProjection(r.ID, metrics.ProjectionExisting)
	current, err := tx.Get(ctx, domain.KindAnnouncement, existing.TargetID)
	if errors.Is(err, domain.ErrNotFound) {
		// The mirror was deleted by hand; the firing still stands.
		return nil
	}
	if err != nil {
		return err
	}
	cur, ok := current.(*domain.Announcement)
	if !ok || (cur.Title == ann.Title && cur.Description == ann.Description) {
		return nil
	}
	next := *cur
	next.Title = ann.Title
	next.Description = ann.Description
	return tx.Put(ctx, &next)
}

func announcementFor(r Rule, entity domain.Entity) (*domain.Announcement, error) {
	ann := &domain.Announcement{
		ID:       domain.ProjectionID(r.Source, entity.EntityID()),
		Type:     r.Type,
		SourceID: entity.EntityID(),
	}
	switch src := entity.(type) {
	case *domain.Event:
		ann.Title, ann.Description = src.Headline()
		ann.ImageURL = src.ImageURL
		ann.CreatedBy = src.CreatedBy
		ann.CreatedAt = src.CreatedAt
	case *domain.Ministry:
		ann.Title, ann.Description = src.Headline()
		ann.ImageURL = src.ImageURL
		ann.CreatedBy = src.CreatedBy
		ann.CreatedAt = src.CreatedAt
	default:
		p, ok := entity.(domain.Publishable)
		if !ok {
			return nil, fmt.Errorf("rule %s cannot project %T", r.ID, entity)
		}
		ann.Title, ann.Description = p.Headline()
	}
	return ann, nil
}
