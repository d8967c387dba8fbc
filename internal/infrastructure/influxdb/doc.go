// Package influxdb writes switch state changes to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Each state change
// becomes one point in the switch_state measurement, tagged by device and
// by the source that caused it (poll, api, mqtt, cli).
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSwitchState("garage-pi", "on", true, "poll", time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batched; errors arrive via SetOnError.
// Connection and health check errors are returned directly.
package influxdb
