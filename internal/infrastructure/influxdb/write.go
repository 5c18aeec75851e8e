package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names. Every point is tagged with device_id.
const (
	MeasurementLiveness  = "feeder_liveness"
	MeasurementFood      = "feeder_food"
	MeasurementFeed      = "feeder_feed"
	MeasurementHeartbeat = "feeder_heartbeat"
	MeasurementCommand   = "feeder_command"
)

// WriteLiveness records an online/offline transition.
func (c *Client) WriteLiveness(deviceID string, online bool, at time.Time) {
	c.write(livenessPoint(deviceID, online, at))
}

// WriteFoodLevel records a food-level report. distanceCM is omitted when the
// device did not send one.
func (c *Client) WriteFoodLevel(deviceID string, low bool, distanceCM float64, at time.Time) {
	c.write(foodPoint(deviceID, low, distanceCM, at))
}

// WriteFeed records a completed feed.
func (c *Client) WriteFeed(deviceID string, durationSeconds int, at time.Time) {
	c.write(feedPoint(deviceID, durationSeconds, at))
}

// WriteHeartbeat records the signal strength carried by a heartbeat.
func (c *Client) WriteHeartbeat(deviceID string, rssi int, at time.Time) {
	c.write(heartbeatPoint(deviceID, rssi, at))
}

// WriteCommand records one command dispatch and its outcome.
func (c *Client) WriteCommand(deviceID, command, outcome string, at time.Time) {
	c.write(commandPoint(deviceID, command, outcome, at))
}

// WritePoint writes an arbitrary point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes an arbitrary point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	c.write(write.NewPoint(measurement, tags, fields, ts))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func livenessPoint(deviceID string, online bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementLiveness,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"online": online},
		at,
	)
}

func foodPoint(deviceID string, low bool, distanceCM float64, at time.Time) *write.Point {
	fields := map[string]interface{}{"low": low}
	if distanceCM > 0 {
		fields["distance_cm"] = distanceCM
	}
	return write.NewPoint(MeasurementFood, map[string]string{"device_id": deviceID}, fields, at)
}

func feedPoint(deviceID string, durationSeconds int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementFeed,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"duration_s": durationSeconds},
		at,
	)
}

func heartbeatPoint(deviceID string, rssi int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementHeartbeat,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"rssi": rssi},
		at,
	)
}

func commandPoint(deviceID, command, outcome string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCommand,
		map[string]string{"device_id": deviceID, "command": command, "outcome": outcome},
		map[string]interface{}{"count": 1},
		at,
	)
}
