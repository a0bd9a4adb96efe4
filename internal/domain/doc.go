// Package domain defines the data model shared by the fellowship sync layer.
//
// Two families of entities live here:
//
//   - Local entities (Event, Announcement, Ministry, Prayer) are owned by the
//     on-device store. Their ids are client generated and unique within a Kind.
//   - Remote entities (Group, Message, Discussion, Comment) are owned by the
//     real-time document store. The client only ever holds a cached copy.
//
// The package also provides canonical JSON serialization and domain-separated
// content ids. Content ids are used wherever a write must be idempotent:
// projections are keyed by their source, and remote messages are keyed by the
// correlation id the client attached at submission time.
//
// Errors crossing a Command boundary are *Error values carrying a Code. Use
// errors.Is against the exported sentinels (ErrNotMember, ErrStorageUnavailable,
// ...) to branch on them.
package domain
