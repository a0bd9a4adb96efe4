// Package subscription manages live remote queries on behalf of UI
// consumers.
//
// A Subscription is identified by (consumerID, queryKey). Subscribing again
// with the same pair tears the previous subscription down first, so at most
// one remote listener exists per pair and the previous listener's cancel
// function runs exactly once.
//
// Snapshots are delivered to the handler on a per-subscription goroutine,
// in emission order. When the handler lags, pending snapshots are
// coalesced and only the newest is delivered. Versions delivered to a
// handler never decrease.
//
// Unsubscribe may be called at any time, including from inside the
// handler. A delivery already running on another goroutine completes
// before Unsubscribe returns; none starts afterwards, so snapshots in
// flight at teardown are dropped.
//
// Scopes tie subscriptions to a screen's lifetime: Focus acquires, Blur and
// Close release, and Bind releases when a context ends.
package subscription
