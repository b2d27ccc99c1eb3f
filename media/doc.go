// Package media defines the contract the pipeline engine needs from a
// streaming media framework: element factories, a pipeline with
// asynchronous state changes, seeking, a position clock, and a message bus
// with an optional synchronous handler called on streaming threads.
//
// Package sim provides an in-memory implementation.
package media
