// Package logger provides structured logging using zerolog.
//
// The controller logs to stdout in console or JSON form. The worker process
// must never write logs to stdout, which carries the call bridge, so it logs
// JSON to stderr; the controller relays those lines through a LineWriter.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//	  output: "stderr"
//
// # Usage
//
//	log := logger.Get("supervisor")
//	log.Info("worker started", logger.Fields(logger.FieldPID, pid))
package logger
