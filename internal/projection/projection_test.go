package projection

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/localstore"
)

func openStore(t *testing.T) *localstore.Store {
	t.Helper()
	s, err := localstore.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newEngine(t *testing.T, s *localstore.Store) *Engine {
	t.Helper()
	e, err := New(DefaultRules()...)
	require.NoError(t, err)
	s.Use(e)
	return e
}

func event(id, title string, public bool) *domain.Event {
	return &domain.Event{
		ID:          id,
		Title:       title,
		Description: title + " details",
		Location:    "Hall",
		CreatedBy:   "u1",
		CreatedAt:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Public:      public,
	}
}

func announcements(t *testing.T, s *localstore.Store) []*domain.Announcement {
	t.Helper()
	items, err := s.Get(context.Background(), domain.KindAnnouncement)
	require.NoError(t, err)
	out := make([]*domain.Announcement, 0, len(items))
	for _, it := range items {
		out = append(out, it.(*domain.Announcement))
	}
	return out
}

func TestNew_RejectsDuplicateRuleIDs(t *testing.T) {
	_, err := New(
		Rule{ID: "x", Source: domain.KindEvent},
		Rule{ID: "x", Source: domain.KindMinistry},
	)
	require.Error(t, err)

	_, err = New(Rule{Source: domain.KindEvent})
	require.Error(t, err)
}

func TestPublicEventProjectsAnnouncement(t *testing.T) {
	s := openStore(t)
	newEngine(t, s)
	ctx := context.Background()

	_, err := s.Put(ctx, domain.KindEvent, event("e1", "Picnic", true))
	require.NoError(t, err)

	anns := announcements(t, s)
	require.Len(t, anns, 1)
	a := anns[0]
	assert.Equal(t, domain.ProjectionID(domain.KindEvent, "e1"), a.ID)
	assert.Equal(t, "Picnic", a.Title)
	assert.Equal(t, "Picnic details", a.Description)
	assert.Equal(t, domain.AnnouncementEvent, a.Type)
	assert.Equal(t, "e1", a.SourceID)
	assert.Equal(t, "u1", a.CreatedBy)
}

func TestPrivateEventDoesNotProject(t *testing.T) {
	s := openStore(t)
	newEngine(t, s)

	_, err := s.Put(context.Background(), domain.KindEvent, event("e1", "Elders", false))
	require.NoError(t, err)

	assert.Empty(t, announcements(t, s))
}

func TestPublicMinistryProjectsAnnouncement(t *testing.T) {
	s := openStore(t)
	newEngine(t, s)

	m := &domain.Ministry{ID: "m1", Name: "Choir", Description: "Sing", CreatedBy: "u2", Public: true}
	_, err := s.Put(context.Background(), domain.KindMinistry, m)
	require.NoError(t, err)

	anns := announcements(t, s)
	require.Len(t, anns, 1)
	assert.Equal(t, "Choir", anns[0].Title)
	assert.Equal(t, domain.AnnouncementMinistry, anns[0].Type)
	assert.Equal(t, domain.ProjectionID(domain.KindMinistry, "m1"), anns[0].ID)
}

func TestProjectionIsIdempotent(t *testing.T) {
	s := openStore(t)
	newEngine(t, s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Put(ctx, domain.KindEvent, event("e1", "Picnic", true))
		require.NoError(t, err)
	}

	assert.Len(t, announcements(t, s), 1)

	firings, err := s.Projections(ctx, domain.KindEvent, "e1")
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, RuleEventAnnouncement, firings[0].RuleID)
}

func TestProjectionFollowsSourceEdits(t *testing.T) {
	s := openStore(t)
	newEngine(t, s)
	ctx := context.Background()

	_, err := s.Put(ctx, domain.KindEvent, event("e1", "Picnic", true))
	require.NoError(t, err)
	_, err = s.Put(ctx, domain.KindEvent, event("e1", "Picnic at noon", true))
	require.NoError(t, err)

	anns := announcements(t, s)
	require.Len(t, anns, 1)
	assert.Equal(t, "Picnic at noon", anns[0].Title)
}

func TestProjectionKeepsEventWhenMirrorFails(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	failing, err := New(Rule{
		ID:     "broken",
		Source: domain.KindEvent,
		Type:   domain.AnnouncementType("bogus"),
	})
	require.NoError(t, err)
	s.Use(failing)

	_, err = s.Put(ctx, domain.KindEvent, event("e1", "Picnic", true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProjectionFailed))

	got, err := s.GetByID(ctx, domain.KindEvent, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Picnic", got.(*domain.Event).Title)
	assert.Empty(t, announcements(t, s))

	firings, err := s.Projections(ctx, domain.KindEvent, "e1")
	require.NoError(t, err)
	assert.Empty(t, firings, "a failed firing must not be claimed")
}

func TestReconcileRepairsMissingProjections(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	// Written before any engine is installed.
	_, err := s.Put(ctx, domain.KindEvent, event("e1", "Picnic", true))
	require.NoError(t, err)
	_, err = s.Put(ctx, domain.KindEvent, event("e2", "Elders", false))
	require.NoError(t, err)
	require.Empty(t, announcements(t, s))

	e := newEngine(t, s)
	report, err := e.Reconcile(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Repaired)
	assert.Empty(t, report.Failed)

	anns := announcements(t, s)
	require.Len(t, anns, 1)
	assert.Equal(t, "e1", anns[0].SourceID)

	// A second pass finds nothing public left to repair.
	report, err = e.Reconcile(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Repaired)
	assert.Len(t, announcements(t, s), 1)
}

func TestRulesReturnsCopyInOrder(t *testing.T) {
	e, err := New(DefaultRules()...)
	require.NoError(t, err)

	rules := e.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, RuleEventAnnouncement, rules[0].ID)
	assert.Equal(t, RuleMinistryAnnouncement, rules[1].ID)

	rules[0].ID = "mutated"
	assert.Equal(t, RuleEventAnnouncement, e.Rules()[0].ID)
}
