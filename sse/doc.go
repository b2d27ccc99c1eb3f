// Package sse streams named events to HTTP clients as Server-Sent Events.
//
// A Hub routes each broadcast to the clients whose id matches a glob
// pattern. Client ids are chosen by the caller, for example
// "pipeline:<id>:<uuid>", so one pattern can address every client
// watching one pipeline.
//
//	hub := sse.NewHub()
//	go hub.Run()
//	defer hub.Stop()
//	hub.Broadcast("pipeline:"+id+":*", sse.Frame{Event: "on_error", Data: payload})
package sse
