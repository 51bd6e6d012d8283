// Package broadcast fans device lifecycle events out to dashboard channels.
//
// A scoped event about device A reaches only the channels whose identity is
// A's owner or an admin. Unauthenticated channels never receive scoped
// events. EmitAll skips the scoping and exists for debug paths.
//
// The Bridge implements agent.Events, dashboard.Events and relay.Events.
// Those notifications return immediately; the store read and the emits run
// on a tasks.Scheduler. Failures are logged and never reach the caller that
// triggered the event.
package broadcast
