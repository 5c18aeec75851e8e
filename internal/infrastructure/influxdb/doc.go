// Package influxdb records feeder telemetry in InfluxDB 2.x.
//
// It wraps influxdb-client-go v2 with a non-blocking, batched write API.
// Points are grouped into a few measurements, all tagged with device_id:
//
//	feeder_liveness   online=true|false
//	feeder_food       low=true|false, distance_cm
//	feeder_feed       duration_s
//	feeder_heartbeat  rssi
//	feeder_command    count=1, tagged command and outcome
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry switched off
//	}
//	defer client.Close()
//
//	client.WriteFeed("007", 5, time.Now())
//
// Telemetry is best-effort. Writes on a disconnected client are dropped
// silently and asynchronous failures are reported through SetOnError.
package influxdb
