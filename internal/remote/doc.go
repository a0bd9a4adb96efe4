// Package remote defines the contract of the shared real-time document
// store that holds collaborative entities (groups, messages, discussions,
// comments) and provides an in-process implementation of it.
//
// # Data Model
//
// Documents live in collections addressed by slash-separated paths:
//
//	groups/{id}
//	groups/{id}/messages/{id}
//	discussions/{id}
//	discussions/{id}/comments/{id}
//
// Document data is a JSON object. Values are normalized through
// encoding/json on the way in, so numbers are float64 and arrays are []any
// regardless of which Store implementation produced them.
//
// # Writes
//
// Commit applies a batch of writes atomically: either every write lands
// and one new store version is published, or none does. Create fails with
// ErrAlreadyExists when the document exists, which callers that derive ids
// from correlation ids treat as a successful retry. Field transforms
// (server timestamp, array union, increment) are resolved by the store at
// commit time.
//
// # Live Queries
//
// Listen delivers full result sets (snapshots), never deltas. Snapshots
// from one listener are delivered in commit order on a dedicated goroutine
// and carry the store version they were taken at. An error terminates the
// listener; no snapshot follows it.
package remote
