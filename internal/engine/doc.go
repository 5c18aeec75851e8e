// Package engine wires the feeder core together: it owns the bus intake,
// applies decoded events to the device registry, runs the liveness and
// pending-edit timers, and fans change notifications out to listeners.
//
// Architecture:
//
//	transport callback ──► intake (buffered) ──► worker ──► protocol.Decode
//	                                               │
//	                                               ▼
//	                                       device.Registry ──► listeners
//	                                               ▲
//	liveness.Monitor ─────────────────────────────┤
//	pending-edit expiry ──────────────────────────┘
//
// Exactly one worker goroutine calls the registry's event mutators. The
// transport callback never blocks: when the intake is full the message is
// dropped and counted.
//
// Listeners are called synchronously and serially, from the worker or the
// timer goroutines. They must not block.
package engine
