// Package statusapi serves a read-mostly HTTP view of a supervisor.Runtime.
//
// Routes:
//
//	GET    /health                  aggregate health of the live workers
//	GET    /pipelines               live pipelines
//	GET    /pipelines/:id           one pipeline, with position and activity
//	DELETE /pipelines/:id           stop a pipeline
//	GET    /pipelines/:id/events    SSE stream of one pipeline's events
//	GET    /events                  SSE stream of every pipeline's events
//	GET    /elements/:type          whether workers can create an element type
package statusapi
