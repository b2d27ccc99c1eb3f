// Package sim is an in-memory media framework. It models the parts of a
// streaming framework the engine relies on: typed element properties,
// static and dynamic pads with format negotiation, asynchronous state
// changes, flushing and segment seeks, a running clock, and a bus fed
// from OS-locked streaming threads.
//
// Supported element types are listed in registry.go. Sources produce one
// buffer per Options.Tick while PLAYING.
package sim
