// ABOUTME: Package console is the per-login session that ties the sync layer together
// ABOUTME: One event loop owns every store mutation; see Session.Run

// Package console implements the agent's session: the explicit context
// object created on login that owns the conversation store, the real-time
// channel, the snapshot loader, the SLA evaluator and the notification sink.
//
// # Event loop
//
// [Session.Run] is the only goroutine that mutates the store. Real-time
// events, snapshot results, SLA ticks and agent commands are dequeued one
// at a time, so two merges never interleave. Network requests run on their
// own goroutines and post their results back onto the loop.
//
// # Reducer
//
// [Session.Apply] dispatches one typed event into the store and decides
// whether the agent should be notified. It can be driven directly in tests
// without a transport.
//
// # Superseded snapshots
//
// Every load is tagged with the fingerprint of the filter it was issued
// for. A result whose fingerprint no longer matches the active filter is
// discarded.
package console
