// Package supervisor is the controller side of iceflow. A Supervisor owns
// one worker process and the bridge to it. A Pipeline wraps a Supervisor
// in typed calls and delivers worker events to an EventHandler.
// ElementProxy values address elements inside a Pipeline without keeping
// it alive.
//
// Usage:
//
//	rt := supervisor.NewRuntime(cfg)
//	defer rt.Close(ctx)
//
//	p, err := rt.NewPipeline(ctx, supervisor.WithName("lobby"))
//	src, err := p.AddElement(ctx, "audiotestsrc", supervisor.Prop("wave", 5))
//	_, err = p.AddElement(ctx, "autoaudiosink")
//	err = p.Start(ctx, engine.StartOptions{})
//	...
//	p.Stop(ctx)
package supervisor
