// Package store holds the agent's in-memory conversation collection.
//
// # Overview
//
// Store is the single source of truth for the conversations visible to the
// signed-in agent. It is seeded from REST snapshots and mutated incrementally
// by push events; the view and SLA layers read from it and never keep copies.
//
// # Field groups
//
// A conversation is split into independently versioned field groups:
//
//   - status: lifecycle state
//   - assignment: assigned agent
//   - tags: tag set
//   - priority: priority and the backend SLA due override
//   - details: subject, channel, customer, creation time
//   - activity: last activity, message count, preview, first response
//
// Merge applies an update group by group. A group is overwritten only when the
// update's timestamp is at or after the timestamp that last wrote that group,
// so a late status change cannot clobber a newer tag edit and vice versa.
// Updates for unknown ids are upserted: a push event may legitimately arrive
// before the snapshot containing its conversation.
//
// # Messages
//
// Append is idempotent by message id. Messages are retained only for
// conversations the agent has open; for the rest, a dedupe window remembers
// recently seen ids so replays after a reconnect do not double count.
// Optimistic sends are stored as pending messages keyed by a client id and
// confirmed in place when the server echoes them back.
//
// # Concurrency
//
// All mutations are expected to come from one event loop. The store still
// guards its state with a mutex so readers on other goroutines see
// consistent copies.
package store
