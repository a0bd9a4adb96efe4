package localstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fellowship/internal/domain"
)

func TestGet_EmptyCollectionNotNil(t *testing.T) {
	s := createTestStore(t)

	events, err := s.Get(t.Context(), domain.KindEvent)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestGet_SkipsCorruptRecords(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	_, err := s.Put(ctx, domain.KindPrayer, testPrayer("p1", "good"))
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO records (kind, id, payload, revision, seq, updated_at) VALUES ('prayers', 'bad', '{not json', 1, 999, '')`)
	require.NoError(t, err)

	prayers, err := s.Get(ctx, domain.KindPrayer)
	assert.ErrorIs(t, err, domain.ErrCorruptRecord)
	require.Len(t, prayers, 1)
	assert.Equal(t, "p1", prayers[0].EntityID())
}

func TestGet_UnreadableStorageFailsOpen(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.db.Close())

	events, err := s.Get(t.Context(), domain.KindEvent)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestGet_UnknownKind(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Get(t.Context(), domain.Kind("sermons"))
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)
}

func TestGetByID_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetByID(t.Context(), domain.KindEvent, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUnprojected(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	_, err := s.Put(ctx, domain.KindEvent, testEvent("e1", "One", true))
	require.NoError(t, err)
	_, err = s.Put(ctx, domain.KindEvent, testEvent("e2", "Two", true))
	require.NoError(t, err)

	_, err = s.db.Exec(`INSERT INTO projections (source_kind, source_id, rule_id, target_kind, target_id, seq) VALUES ('events', 'e1', 'r', 'announcements', 'a1', 100)`)
	require.NoError(t, err)

	pending, err := s.Unprojected(ctx, domain.KindEvent, "r")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e2", pending[0].EntityID())

	recs, err := s.Projections(ctx, domain.KindEvent, "e1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a1", recs[0].TargetID)
}
