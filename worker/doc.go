// Package worker is the body of the worker process. It serves one
// engine.Pipeline to the controller over stdin and stdout, logs to
// stderr, and exits when the controller or its parent goes away.
package worker
