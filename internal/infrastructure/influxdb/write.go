package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementSwitchState is the measurement holding switch state changes.
const MeasurementSwitchState = "switch_state"

// SwitchStatePoint builds the point for one state change. The raw state is a
// string field and on is a boolean field, so dashboards can graph either.
func SwitchStatePoint(deviceID, state string, on bool, source string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSwitchState,
		map[string]string{
			"device_id": deviceID,
			"source":    source,
		},
		map[string]interface{}{
			"state": state,
			"on":    on,
		},
		ts,
	)
}

// WriteSwitchState records a state change. The write is non-blocking and
// batched; failures are reported through SetOnError.
func (c *Client) WriteSwitchState(deviceID, state string, on bool, source string, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(SwitchStatePoint(deviceID, state, on, source, ts))
	c.written.Add(1)
}
