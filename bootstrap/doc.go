// Package bootstrap runs the lifecycle of an iceflow controller binary:
// typed config defaults and validation, logger setup, start/ready/stop
// hooks, health checks and graceful shutdown on SIGINT or SIGTERM.
//
//	app, err := bootstrap.NewApp(&cfg)
//	app.OnStart(startStatusServer)
//	app.OnStop(rt.Close)
//	err = app.RunTask(ctx, playDemo)
package bootstrap
