package supervisor

import "github.com/kbukum/iceflow/engine"

// ElementOption configures AddElement.
type ElementOption func(*engine.ElementSpec)

// Named sets the element name.
func Named(name string) ElementOption {
	return func(s *engine.ElementSpec) { s.Name = name }
}

// ConnectTo links the new element to the outputs of these elements
// instead of the last element of the main chain.
func ConnectTo(outputs ...*ElementProxy) ElementOption {
	return func(s *engine.ElementSpec) {
		for _, e := range outputs {
			s.ConnectToOutput = append(s.ConnectToOutput, e.Handle())
		}
	}
}

// Unlinked adds the element without linking it.
func Unlinked() ElementOption {
	return func(s *engine.ElementSpec) { s.Unlinked = true }
}

// WhenAvailable defers the link until the predecessor exposes a pad whose
// caps contain capsFilter. An empty filter accepts any pad.
func WhenAvailable(capsFilter string) ElementOption {
	return func(s *engine.ElementSpec) {
		s.ConnectWhenAvailable = true
		s.CapsFilter = capsFilter
	}
}

// LinkOnce drops a deferred link after it fired once.
func LinkOnce() ElementOption {
	return func(s *engine.ElementSpec) { s.LinkOnce = true }
}

// AutoAudioConvert inserts an audioconvert when a direct link fails.
func AutoAudioConvert() ElementOption {
	return func(s *engine.ElementSpec) { s.AutoInsertAudioConvert = true }
}

// Sidechain keeps the element out of the main chain.
func Sidechain() ElementOption {
	return func(s *engine.ElementSpec) { s.Sidechain = true }
}

// Prop sets a property before the element is linked.
func Prop(name string, value any) ElementOption {
	return func(s *engine.ElementSpec) {
		if s.Properties == nil {
			s.Properties = make(map[string]any)
		}
		s.Properties[name] = value
	}
}

// PipelineOption configures NewPipeline.
type PipelineOption func(*pipelineOptions)

type pipelineOptions struct {
	name       string
	handler    EventHandler
	realtime   int
	systemTime bool
}

// WithName names the pipeline in logs and in the worker.
func WithName(name string) PipelineOption {
	return func(o *pipelineOptions) { o.name = name }
}

// WithHandler sets the event handler. Default is NopHandler.
func WithHandler(h EventHandler) PipelineOption {
	return func(o *pipelineOptions) { o.handler = h }
}

// WithRealtime runs the worker's streaming threads at this SCHED_FIFO
// priority.
func WithRealtime(priority int) PipelineOption {
	return func(o *pipelineOptions) { o.realtime = priority }
}

// WithSystemTime keeps the stream position aligned with wall-clock time.
func WithSystemTime() PipelineOption {
	return func(o *pipelineOptions) { o.systemTime = true }
}
