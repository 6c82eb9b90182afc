// Package broadcast replays a collected snapshot into outbound sends.
//
// A run is a single sequential pass: the caller-supplied confirmation gate is
// consulted first, then every record gets exactly one send attempt, in snapshot
// order. Failures are counted and reported but never stop the run and are
// never retried.
//
// # Pacing
//
// After a successful send the service waits Config.Delay before moving on.
// A failed send moves on immediately unless Config.DelayAfterFailure is set.
package broadcast
