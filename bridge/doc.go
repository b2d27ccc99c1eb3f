// Package bridge is the duplex call channel between the controller and a
// worker process.
//
// Each side owns a Conn over a byte stream pair (the worker's stdout and
// stdin). Messages are framed as a 4-byte big-endian length followed by a
// JSON body. A Conn is symmetric: either side may issue requests, answer
// them, or send events. In practice the controller calls commands and the
// worker answers and emits events.
//
//	conn := bridge.NewConn(stdout, stdin, bridge.Options{Events: onEvent})
//	var h engine.Handle
//	err := conn.Call(ctx, bridge.MethodAddElement, spec, &h)
//
// Every request yields exactly one response. Handler errors and panics are
// converted into error responses; they never close the connection.
package bridge
