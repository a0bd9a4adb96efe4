package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docs(coll string, rows ...map[string]any) []Document {
	out := make([]Document, len(rows))
	for i, r := range rows {
		id := r["id"].(string)
		data := make(map[string]any, len(r))
		for k, v := range r {
			if k != "id" {
				data[k] = v
			}
		}
		out[i] = Document{Collection: coll, ID: id, Data: data}
	}
	return out
}

func TestQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{"plain collection", Collection("groups"), false},
		{"no collection", Query{}, true},
		{"negative limit", Query{Collection: "g", Limit: -1}, true},
		{"unknown op", Collection("g").WhereField("a", "~", 1), true},
		{"empty field", Collection("g").WhereField("", OpEqual, 1), true},
		{"two array-contains", Collection("g").WhereField("a", OpArrayContains, 1).WhereField("b", OpArrayContains, 2), true},
		{"bad direction", Query{Collection: "g", OrderBy: []Order{{Field: "a", Direction: "up"}}}, true},
		{"full query", Collection("g").WhereField("memberIds", OpArrayContains, "u1").OrderedBy("createdAt", Desc), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQuery_ApplyFiltersAndOrders(t *testing.T) {
	in := docs("m",
		map[string]any{"id": "b", "createdAt": "2024-01-01T10:00:00.000000000Z", "room": "A"},
		map[string]any{"id": "a", "createdAt": "2024-01-01T10:00:00.000000000Z", "room": "A"},
		map[string]any{"id": "c", "createdAt": "2024-01-01T09:00:00.000000000Z", "room": "A"},
		map[string]any{"id": "d", "createdAt": "2024-01-01T08:00:00.000000000Z", "room": "B"},
	)

	got := Collection("m").WhereField("room", OpEqual, "A").OrderedBy("createdAt", Asc).Apply(in)
	ids := make([]string, len(got))
	for i, d := range got {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids, "timestamp ties break on id")
}

func TestQuery_ApplyLimitAndDesc(t *testing.T) {
	in := docs("m",
		map[string]any{"id": "a", "n": float64(1)},
		map[string]any{"id": "b", "n": float64(3)},
		map[string]any{"id": "c", "n": float64(2)},
	)
	q := Collection("m").OrderedBy("n", Desc)
	q.Limit = 2
	got := q.Apply(in)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestQuery_ArrayContains(t *testing.T) {
	in := docs("groups",
		map[string]any{"id": "g1", "memberIds": []any{"u1", "u2"}},
		map[string]any{"id": "g2", "memberIds": []any{"u3"}},
		map[string]any{"id": "g3"},
	)
	got := Collection("groups").WhereField("memberIds", OpArrayContains, "u2").Apply(in)
	require.Len(t, got, 1)
	assert.Equal(t, "g1", got[0].ID)
}

func TestQuery_RangeFilters(t *testing.T) {
	in := docs("m",
		map[string]any{"id": "a", "n": float64(1)},
		map[string]any{"id": "b", "n": float64(5)},
		map[string]any{"id": "c", "n": "five"},
	)
	got := Collection("m").WhereField("n", OpGreater, 2).Apply(in)
	require.Len(t, got, 1, "range filters never match across types")
	assert.Equal(t, "b", got[0].ID)
}

func TestQuery_OtherCollectionNeverMatches(t *testing.T) {
	d := Document{Collection: "a", ID: "x"}
	assert.False(t, Collection("b").Matches(d))
}

func TestCompareValues_TimestampsWithDifferentPrecision(t *testing.T) {
	assert.Negative(t, compareValues("2024-01-01T10:00:00.5Z", "2024-01-01T10:00:01Z"))
	assert.Zero(t, compareValues("2024-01-01T10:00:00Z", "2024-01-01T10:00:00.000000000Z"))
}

func TestDocument_Decode(t *testing.T) {
	type group struct {
		ID        string   `json:"id"`
		Name      string   `json:"name"`
		MemberIDs []string `json:"memberIds"`
	}
	d := Document{Collection: "groups", ID: "g1", Data: map[string]any{"name": "Youth", "memberIds": []any{"u1"}}}

	var g group
	require.NoError(t, d.Decode(&g))
	assert.Equal(t, group{ID: "g1", Name: "Youth", MemberIDs: []string{"u1"}}, g)
	assert.NotContains(t, d.Data, "id", "decode must not mutate the document")
}

func TestParentID(t *testing.T) {
	assert.Equal(t, "g1", ParentID(MessagesCollection("g1")))
	assert.Equal(t, "d9", ParentID(CommentsCollection("d9")))
	assert.Equal(t, "", ParentID(GroupsCollection))
}

func TestQuery_FilterOnDocumentID(t *testing.T) {
	in := docs("groups",
		map[string]any{"id": "g1"},
		map[string]any{"id": "g2"},
	)
	got := Collection("groups").WhereField(FieldID, OpEqual, "g2").Apply(in)
	require.Len(t, got, 1)
	assert.Equal(t, "g2", got[0].ID)
}
