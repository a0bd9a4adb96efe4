// Package harness runs fellowship scenarios: YAML files that drive the
// command surface step by step and then assert on the resulting trace,
// the local collections, and the remote documents.
//
// # Scenario Format
//
//	name: public_event_projects_once
//	description: "A public event lands in the feed exactly once"
//	users:
//	  alice: { id: u-alice, name: Alice }
//	setup:
//	  - invoke: group.create
//	    as: alice
//	    args: { name: Youth }
//	    save: youth
//	flow:
//	  - invoke: event.create
//	    as: alice
//	    args: { title: Picnic, isPublic: true, correlationId: c-1 }
//	    expect:
//	      outcome: ok
//	      result: { replayed: false }
//	assertions:
//	  - type: trace_count
//	    action: event.create
//	    count: 1
//	  - type: local_state
//	    table: announcements
//	    where: { type: event }
//	    count: 1
//
// A string argument of the form "$name" is replaced by the id saved from
// an earlier step with save: name.
//
// # Actions
//
//	event.create          announcement.create    ministry.create
//	prayer.submit         prayer.toggle_answered prayer.pray_for
//	group.create          group.join             group.send
//	group.retry           group.sync             group.render
//	discussion.create     discussion.comment     discussion.recount
//	discussion.comment_uncounted                 projection.reconcile
//
// # Assertion Types
//
//   - trace_contains: an action appears in the trace with matching args
//   - trace_order: actions appear in the given order
//   - trace_count: an action appears exactly N times
//   - local_state: records of a local collection match where/expect
//   - remote_state: documents of a remote collection match where/expect
//   - remote_commits: the remote store saw exactly N commits
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite store, an in-memory remote store,
// a sequence id generator, and fixed clocks, so the trace of a scenario is
// identical across runs and can be compared against a golden file.
package harness
