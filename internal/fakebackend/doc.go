// ABOUTME: Package fakebackend is an in-memory support platform for tests and demos
// ABOUTME: Serves the REST boundary and the real-time WebSocket from one handler

// Package fakebackend implements the backend side of the agent console's
// two boundaries so the console can run end to end without the real
// platform.
//
// # Overview
//
// [Backend] keeps conversations and messages in memory. Its HTTP handler
// serves the paginated REST endpoints the snapshot client reads and the
// /ws endpoint the real-time channel connects to. Tokens are HS256 JWTs
// checked with [auth.Verifier].
//
// # Simulation
//
// Tests and cmd/fake-backend drive the platform side directly:
//
//	b.CustomerMessage("c1", "my order never arrived")
//	b.Assign("c1", "agent-1", "lead")
//	b.SetState("c1", store.StateResolved, "lead")
//	b.DropConnections() // forces every client to reconnect
//
// Conversation-wide events go to every connected agent. Typing indicators
// only go to agents that joined the conversation.
package fakebackend
