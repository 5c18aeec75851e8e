package engine

import "time"

// TelemetryWriter is the time-series sink fed by TelemetryListener.
// *influxdb.Client satisfies it.
type TelemetryWriter interface {
	WriteLiveness(deviceID string, online bool, at time.Time)
	WriteFoodLevel(deviceID string, low bool, distanceCM float64, at time.Time)
	WriteFeed(deviceID string, durationSeconds int, at time.Time)
	WriteHeartbeat(deviceID string, rssi int, at time.Time)
}

// TelemetryListener returns a Listener that records liveness transitions,
// food-level alerts, completed feeds and signal strength.
func TelemetryListener(w TelemetryWriter) Listener {
	return func(evt ChangeEvent) {
		switch evt.Kind {
		case KindDeviceOnline:
			w.WriteLiveness(evt.DeviceID, true, evt.At)
			writeRSSI(w, evt)
		case KindDeviceOffline:
			w.WriteLiveness(evt.DeviceID, false, evt.At)
		case KindDeviceUpdated:
			writeRSSI(w, evt)
		case KindFoodAlert:
			if evt.Snapshot != nil {
				w.WriteFoodLevel(evt.DeviceID, evt.Snapshot.FoodLow, evt.Snapshot.FoodDistanceCM, evt.At)
			}
		case KindFeedCompleted:
			seconds, _ := evt.Data["duration_s"].(int)
			w.WriteFeed(evt.DeviceID, seconds, evt.At)
		}
	}
}

func writeRSSI(w TelemetryWriter, evt ChangeEvent) {
	if evt.Snapshot != nil && evt.Snapshot.RSSI != nil {
		w.WriteHeartbeat(evt.DeviceID, *evt.Snapshot.RSSI, evt.At)
	}
}
