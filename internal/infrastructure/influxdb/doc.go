// Package influxdb records device hardware telemetry in InfluxDB.
//
// Every hardware snapshot an agent reports in a device-update becomes one
// point in the "hardware" measurement, tagged with the device MAC address:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	dispatcher.SetTelemetry(client)
//
// Writes are batched (batch_size, flush_interval) and never block the
// caller. Asynchronous write failures are delivered to the SetOnError
// callback.
package influxdb
