// Package influxdb writes auth event points to InfluxDB v2.
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; asynchronous failures are reported through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package influxdb
