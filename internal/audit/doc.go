// Package audit implements async delivery of domain events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON lines, Kafka, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//     Retained event types (account locks, refresh reuse) are never dropped.
//   - [Event]: typed record of who, from where, and the login, rate-limit or
//     lockout details of one domain event.
//   - [KafkaSink]: publishes events to a Kafka topic keyed by [Event.PartitionKey].
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit; that belongs to the Engine and the flow functions.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import chatauth or any sibling internal package.
//   - Let a slow sink block an auth request when DropIfFull is set, except for
//     retained event types, which wait at most until the request context ends.
package audit
