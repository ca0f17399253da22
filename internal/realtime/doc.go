// ABOUTME: Package realtime owns the session's duplex push connection
// ABOUTME: Handshake, reconnect with backoff, subscriptions and the wire codec

// Package realtime maintains the single WebSocket connection a console
// session holds to the support platform.
//
// # Overview
//
// A [Channel] dials the backend, sends an auth frame carrying the session
// token and waits for an auth_result before anything else is read. A
// rejected handshake is terminal and surfaces as [ErrAuthRejected]; any
// other failure tears the connection down and reconnects with capped
// exponential backoff.
//
// Server-side subscriptions do not survive a reconnect. The channel keeps a
// reference-counted [Subscriptions] set and re-issues a join for every
// subscribed conversation, plus the last presence status, immediately after
// re-authenticating and before the first pushed frame is read.
//
// # Events
//
// Inbound frames decode into one of the typed [Event] variants. Frames that
// fail to decode are logged and dropped. Events are delivered on
// [Channel.Events] in receipt order; connection status changes are
// delivered on the same stream as [ConnectionStatus] so a consumer can
// process everything through one reducer.
package realtime
