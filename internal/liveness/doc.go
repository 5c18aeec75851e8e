// Package liveness demotes feeders that stop sending proof of life.
//
// A Monitor sweeps the device registry on a fixed interval and marks every
// online device whose last heartbeat is older than the threshold as offline.
// Each silence episode produces exactly one OnOffline call; the next proof
// of life re-promotes the device inside the registry.
package liveness
