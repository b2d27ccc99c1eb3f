// Package engine runs a media graph inside the worker process.
//
// A Runtime holds the process-wide state: the framework binding, the
// element handle arena, the live pipeline set and the shared hardware
// channel registry. A Pipeline owns one graph, its run-state machine, the
// bus pump and the optional realtime sync handler. Server exposes a
// Pipeline to the controller over the bridge.
//
// Locking: every graph mutation and property access runs under the
// pipeline's general mutex. Seeks run under a separate seek mutex because
// a seek may block until the graph changes state; state changes take the
// seek mutex with a bounded wait. The realtime sync handler and pad-added
// callbacks never take the general mutex.
package engine
