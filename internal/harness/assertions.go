package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/fellowship/internal/domain"
	"github.com/roach88/fellowship/internal/localstore"
	"github.com/roach88/fellowship/internal/remote"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v -> %s\n", event.Seq, event.Action, event.Args, event.Outcome)
		}
	}
	return buf.String()
}

// AssertionContext gives state assertions access to the stores of a run.
type AssertionContext struct {
	Ctx     context.Context
	Local   *localstore.Store
	Remote  remote.Store
	Commits func() int

	// Resolve expands "$name" references in tables and values.
	Resolve func(string) string
}

func (a *AssertionContext) resolve(s string) string {
	if a == nil || a.Resolve == nil {
		return s
	}
	return a.Resolve(s)
}

func (a *AssertionContext) resolveMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = a.resolve(s)
			continue
		}
		out[k] = v
	}
	return out
}

func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Action == assertion.Action && matchArgs(event.Args, assertion.Args) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", assertion.Action, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of actions appear in
// order. Intervening steps are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Action]; !seen {
			positions[event.Action] = i + 1
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev, curr := assertion.Actions[i-1], assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Action == assertion.Action {
			count++
		}
	}
	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("action %s appears %d time(s)", assertion.Action, *assertion.Count),
			Actual:   fmt.Sprintf("appears %d time(s)", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertLocalState(actx *AssertionContext, assertion Assertion) error {
	kind := domain.Kind(assertion.Table)
	if !kind.Valid() {
		return fmt.Errorf("local_state: unknown collection %q", assertion.Table)
	}
	entities, err := actx.Local.Get(actx.Ctx, kind)
	if err != nil {
		return fmt.Errorf("local_state: read %s: %w", kind, err)
	}

	records := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		rec, err := toRecord(e)
		if err != nil {
			return fmt.Errorf("local_state: %w", err)
		}
		records = append(records, rec)
	}
	return matchRecords(AssertLocalState, assertion.Table, records, actx, assertion)
}

func assertRemoteState(actx *AssertionContext, assertion Assertion) error {
	segments := strings.Split(assertion.Table, "/")
	for i, seg := range segments {
		segments[i] = actx.resolve(seg)
	}
	collection := strings.Join(segments, "/")

	snap, err := actx.Remote.Query(actx.Ctx, remote.Collection(collection))
	if err != nil {
		return fmt.Errorf("remote_state: query %s: %w", collection, err)
	}

	records := make([]map[string]any, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		rec := make(map[string]any, len(doc.Data)+1)
		for k, v := range doc.Data {
			rec[k] = v
		}
		rec["id"] = doc.ID
		records = append(records, rec)
	}
	return matchRecords(AssertRemoteState, collection, records, actx, assertion)
}

func assertRemoteCommits(actx *AssertionContext, assertion Assertion) error {
	if actx.Commits == nil {
		return fmt.Errorf("remote_commits: no commit counter")
	}
	if got := actx.Commits(); got != *assertion.Count {
		return &AssertionError{
			Type:     AssertRemoteCommits,
			Expected: fmt.Sprintf("%d remote commit(s)", *assertion.Count),
			Actual:   fmt.Sprintf("%d remote commit(s)", got),
		}
	}
	return nil
}

func matchRecords(kind, table string, records []map[string]any, actx *AssertionContext, assertion Assertion) error {
	where := actx.resolveMap(assertion.Where)
	expect := actx.resolveMap(assertion.Expect)

	var matched []map[string]any
	for _, rec := range records {
		if matchArgs(rec, where) {
			matched = append(matched, rec)
		}
	}

	switch {
	case assertion.Count != nil && len(matched) != *assertion.Count:
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%d record(s) in %s where %s", *assertion.Count, table, formatWhere(where)),
			Actual:   fmt.Sprintf("%d record(s)", len(matched)),
		}
	case assertion.Count == nil && len(matched) == 0:
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("record in %s where %s", table, formatWhere(where)),
			Actual:   "no matching records",
		}
	}

	for _, rec := range matched {
		if !matchArgs(rec, expect) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%v in %s where %s", expect, table, formatWhere(where)),
				Actual:   fmt.Sprintf("%v", rec),
			}
		}
	}
	return nil
}

// toRecord renders an entity as its persisted JSON fields.
func toRecord(e domain.Entity) (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(all)"
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, ", ")
}

// matchArgs checks that actual contains every expected key with an equal
// value. Extra keys in actual are ignored.
func matchArgs(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, exists := actual[key]
		if !exists || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares YAML, JSON and Go values. Integers compare equal
// regardless of their Go type.
func valuesEqual(actual, expected any) bool {
	if a, ok := asInt(actual); ok {
		e, ok := asInt(expected)
		return ok && a == e
	}
	switch ev := expected.(type) {
	case []any:
		av, ok := toSlice(actual)
		if !ok || len(av) != len(ev) {
			return false
		}
		for i := range ev {
			if !valuesEqual(av[i], ev[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		am, ok := actual.(map[string]any)
		return ok && matchArgs(am, ev) && len(am) == len(ev)
	}
	return reflect.DeepEqual(actual, expected)
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}

// EvaluateAssertions evaluates assertions and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertLocalState, AssertRemoteState, AssertRemoteCommits:
			if actx == nil {
				err = fmt.Errorf("assertion[%d]: %s requires store context", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertLocalState:
				err = assertLocalState(actx, assertion)
			case AssertRemoteState:
				err = assertRemoteState(actx, assertion)
			default:
				err = assertRemoteCommits(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
