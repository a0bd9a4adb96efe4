package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func count(n int) *int { return &n }

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Action: "group.create", Args: map[string]any{"name": "Youth"}, Outcome: OutcomeOK},
		{Seq: 2, Action: "group.send", Args: map[string]any{"groupId": "g1", "text": "hi"}, Outcome: "NOT_MEMBER"},
		{Seq: 3, Action: "group.join", Args: map[string]any{"groupId": "g1"}, Outcome: OutcomeOK},
		{Seq: 4, Action: "group.send", Args: map[string]any{"groupId": "g1", "text": "hi"}, Outcome: OutcomeOK},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "group.send", Args: map[string]any{"text": "hi"}}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "group.join"}))

	err := assertTraceContains(trace, Assertion{Action: "group.send", Args: map[string]any{"text": "bye"}})
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertTraceContains, aerr.Type)
	assert.Contains(t, err.Error(), "Full trace:")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"group.create", "group.join"}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"group.send", "group.join"}}), "first occurrence counts")

	err := assertTraceOrder(trace, Assertion{Actions: []string{"group.join", "group.create"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(trace, Assertion{Actions: []string{"group.create", "group.retry"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing action: group.retry")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "group.send", Count: count(2)}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "group.retry", Count: count(0)}))
	assert.Error(t, assertTraceCount(trace, Assertion{Action: "group.send", Count: count(1)}))
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"int vs float64", float64(3), 3, true},
		{"int64 vs int", int64(2), 2, true},
		{"different ints", int64(2), 3, false},
		{"int vs string", 1, "1", false},
		{"strings", "a", "a", true},
		{"bools", true, true, true},
		{"string slice vs any slice", []string{"a", "b"}, []any{"a", "b"}, true},
		{"slice order matters", []any{"b", "a"}, []any{"a", "b"}, false},
		{"slice length", []any{"a"}, []any{"a", "b"}, false},
		{"nested maps", map[string]any{"n": float64(1)}, map[string]any{"n": 1}, true},
		{"nested map extra key", map[string]any{"n": 1, "m": 2}, map[string]any{"n": 1}, false},
		{"non-integral float", 1.5, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.actual, tt.expected))
		})
	}
}

func TestMatchArgs_Subset(t *testing.T) {
	actual := map[string]any{"a": "x", "b": float64(2)}

	assert.True(t, matchArgs(actual, nil))
	assert.True(t, matchArgs(actual, map[string]any{"b": 2}))
	assert.False(t, matchArgs(actual, map[string]any{"c": "x"}))
}

func TestEvaluateAssertions_StateNeedsContext(t *testing.T) {
	result := NewResult()
	errs := EvaluateAssertions(result, []Assertion{{Type: AssertLocalState, Table: "events"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires store context")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: "vibes"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "unknown assertion type")
}
