// Package audit implements async event dispatching for credential lifecycle events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, logr, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured audit record with timestamp, type, principal, attempt ID, metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; that belongs to the Manager.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goRenew or any sibling internal package.
//   - Carry access or refresh tokens in events.
package audit
