// Package agent handles the hardware agent channel protocol.
//
// Agents send JSON text frames with a messageType discriminator. Decode turns
// a raw frame into one of five typed messages (Register, Exists, Update,
// Disconnect, Shutdown), rejecting malformed input with an error the
// dispatcher turns into an error reply. The Dispatcher routes each message to
// its processor through a table keyed by Kind; processors reconcile the device
// store, the hardware connection registry, and the broadcast events.
//
// # Wire format
//
//	-> {"messageType":"register","macAddress":"aa:bb:cc:dd:ee:01","ipAddress":"10.0.0.5","machineName":"build-box","userId":"u1"}
//	<- {"messageType":"info","message":"registered"}
//
//	-> {"messageType":"exists","macAddress":"AA:BB:CC:DD:EE:01"}
//	<- {"messageType":"exists","payload":{"exists":true,"name":"build-box","isConnected":true}}
//
//	<- {"messageType":"command","message":"shutdown"}
//
// # Thread Safety
//
// Handle is called from one read goroutine per channel and processes that
// channel's messages strictly in order. Different channels run concurrently.
package agent
