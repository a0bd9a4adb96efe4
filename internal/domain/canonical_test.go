package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"b": "2",
		"a": int64(1),
		"c": []any{true, "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":"2","c":[true,"x"]}`, string(out))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	out, err := MarshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(out))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	decomposed := "Cafe\u0301"
	out, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	assert.Equal(t, "\"Caf\u00e9\"", string(out))
}

func TestMarshalCanonical_LineSeparatorsLiteral(t *testing.T) {
	out, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(out))

	out, err = MarshalCanonical(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(out), "escaped backslash stays escaped")
}

func TestMarshalCanonical_RejectsFloatsAndNull(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"f": 1.5})
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"n": nil})
	assert.Error(t, err)
}

func TestProjectionID_Deterministic(t *testing.T) {
	a := ProjectionID(KindEvent, "evt-1")
	b := ProjectionID(KindEvent, "evt-1")
	c := ProjectionID(KindMinistry, "evt-1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, contentIDLength)
}

func TestMessageID_ScopedByGroup(t *testing.T) {
	assert.Equal(t, MessageID("g1", "c1"), MessageID("g1", "c1"))
	assert.NotEqual(t, MessageID("g1", "c1"), MessageID("g2", "c1"))
	assert.NotEqual(t, MessageID("g1", "c1"), CommentID("g1", "c1"))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "Caf\u00e9", NormalizeText("  Cafe\u0301\n"))
}
