// Package influxdb records Courier session telemetry in InfluxDB.
//
// The Client implements manager.EventHandler. Register it on a manager and
// every connection attempt, loss, reconnect, subscription change and message
// becomes a point:
//
//	tel, err := influxdb.Connect(cfg.Telemetry, mgr.ClientID())
//	if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
//	    return err
//	}
//	if tel != nil {
//	    mgr.AddEventHandler(tel)
//	    defer tel.Close()
//	}
//
// # Measurements
//
//   - courier_events: connection and subscription events, tagged by type
//   - courier_messages: publishes and deliveries with payload size and QoS
//
// Topics and error text are stored as fields rather than tags to keep series
// cardinality bounded.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; asynchronous write
// failures are reported through SetOnError.
package influxdb
