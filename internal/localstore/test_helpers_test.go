package localstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fellowship/internal/domain"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "local.db")
	s, err := Open(path, WithNow(func() time.Time { return time.Unix(1700000000, 0) }))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEvent(id, title string, public bool) *domain.Event {
	return &domain.Event{
		ID:        id,
		Title:     title,
		CreatedBy: "user-1",
		CreatedAt: time.Unix(1700000000, 0).UTC(),
		Public:    public,
	}
}

func testPrayer(id, text string) *domain.Prayer {
	return &domain.Prayer{ID: id, Text: text, CreatedAt: time.Unix(1700000000, 0).UTC()}
}
