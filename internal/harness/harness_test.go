package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/pending_then_confirmed.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := (&TraceSnapshot{ScenarioName: scenario.Name, Trace: first.Trace}).MarshalCanonical()
	require.NoError(t, err)
	b, err := (&TraceSnapshot{ScenarioName: scenario.Name, Trace: second.Trace}).MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_outcome
description: "expects a private event to be rejected"
users:
  alice: { id: u-alice, name: Alice }
flow:
  - invoke: event.create
    as: alice
    args: { title: Picnic }
    expect:
      outcome: INVALID_COMMAND
assertions:
  - type: trace_count
    action: event.create
    count: 1
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected outcome INVALID_COMMAND, got ok")
}

func TestRun_StateAssertionFails(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: private_event_in_feed
description: "wrongly expects a private event in the feed"
users:
  alice: { id: u-alice, name: Alice }
flow:
  - invoke: event.create
    as: alice
    args: { title: Picnic }
assertions:
  - type: local_state
    table: announcements
    count: 1
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "local_state")
}

func TestRun_SetupFailureAborts(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: signed_out_setup
description: "setup cannot create a group while signed out"
setup:
  - invoke: group.create
    args: { name: Youth }
flow:
  - invoke: group.render
    args: { groupId: g1 }
assertions:
  - type: remote_commits
    count: 0
`))
	require.NoError(t, err)

	_, err = Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNAUTHENTICATED")
}

func TestRun_SavedReferences(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: saved_refs
description: "ids saved by one step feed later steps"
users:
  alice: { id: u-alice, name: Alice }
flow:
  - invoke: prayer.submit
    args: { text: peace }
    save: p
  - invoke: prayer.pray_for
    args: { id: $p }
    expect:
      outcome: ok
      result: { id: $p, revision: 2 }
assertions:
  - type: trace_contains
    action: prayer.pray_for
    args: { id: id-1 }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "id-1", result.Trace[1].Args["id"])
}
