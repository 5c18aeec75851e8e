// Package device provides the Device Registry for the feeder core.
//
// The Registry is the only owner of Device records. Devices are created the
// first time any inbound message names an unknown id and are never deleted
// while the process runs. Everything outside this package reads copies
// returned by Snapshot and AllSnapshots.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                        Device Registry                        │
//	│                                                               │
//	│   intake worker ──▶ Upsert*/Apply* ──┐                        │
//	│                                      ▼                        │
//	│   liveness sweep ──▶ SweepOffline ─▶ map[id]*Device ◀─ mutex  │
//	│                                      ▲                        │
//	│   pending expiry ──▶ ExpirePendingEdits                       │
//	│                                      │                        │
//	│   API / translator ◀── Snapshot / AllSnapshots (deep copies)  │
//	└──────────────────────────────────────────────────────────────┘
//
// # Liveness
//
// Every proof-of-life mutator stamps LastHeartbeatAt from the injected Clock
// and promotes the device online. SweepOffline is the only path that
// demotes. Both run under the same mutex and the sweep decides from the
// timestamp, so a heartbeat applied just before a sweep always wins.
//
// # Usage
//
//	reg := device.NewRegistry(device.Options{Logger: log})
//
//	change := reg.UpsertFromHeartbeat(hb)
//	if change.Created {
//	    // first sighting
//	}
//
//	dev, err := reg.Snapshot("007")
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // unknown id
//	}
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package device
