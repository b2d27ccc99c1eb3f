// Package observability wires OpenTelemetry tracing and metrics into the
// call bridge and exposes a small health model for the status API.
//
//	shutdown, err := observability.Init(ctx, cfg)
//	defer shutdown(ctx)
//
//	metrics, err := observability.NewBridgeMetrics(observability.Meter("iceflow/bridge"))
//	ctx, done := observability.ObserveCall(ctx, metrics, "add_element")
//	err = call(ctx)
//	done(err)
//
// Without Init the global otel providers are no-ops, so instrumented code
// runs unchanged in tests and in the worker.
package observability
