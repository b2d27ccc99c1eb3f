package media

import (
	stderrors "errors"
	"time"
)

// ErrNoSuchElement is returned by Framework.Make for unknown element types.
var ErrNoSuchElement = stderrors.New("media: no such element type")

// ErrClockNotValid is returned by Pipeline.Position before the clock runs.
var ErrClockNotValid = stderrors.New("media: position not available")

// State is a pipeline or element run state.
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

// Framework creates elements and pipelines.
type Framework interface {
	// Make creates an element of the given type. Unknown types yield an
	// error wrapping ErrNoSuchElement.
	Make(elementType, name string) (Element, error)
	// Exists reports whether elementType can be made.
	Exists(elementType string) bool
	// NewPipeline creates an empty pipeline in the NULL state.
	NewPipeline(name string) (Pipeline, error)
}

// Element is a node of the graph.
type Element interface {
	Name() string
	Type() string
	// HasInput reports whether the element has a sink pad.
	HasInput() bool
	// HasOutput reports whether the element has, or will create, a source pad.
	HasOutput() bool
	// DynamicPads reports whether source pads appear only at run time.
	DynamicPads() bool
	SetProperty(name string, value any) error
	Property(name string) (any, error)
	// Child returns the index-th child of a bin element.
	Child(index int) (Element, error)
	// Link connects the next free source pad to dst's sink pad.
	Link(dst Element) error
	// OnPadAdded registers fn for pads created at run time. The returned
	// function unregisters it.
	OnPadAdded(fn func(Pad)) (cancel func())
}

// Pad is a source pad created at run time.
type Pad interface {
	Name() string
	Caps() Caps
	Link(dst Element) error
}

// AppSink is an element the application pulls samples from.
type AppSink interface {
	Element
	// TryPull waits up to timeout for a sample. It returns nil on timeout.
	TryPull(timeout time.Duration) *Sample
}

// Sample is one buffer pulled from an AppSink.
type Sample struct {
	Data []byte
	Caps Caps
}

// SeekFlags modify a seek.
type SeekFlags uint

const (
	SeekFlush SeekFlags = 1 << iota
	SeekSegment
	SeekSkip
)

// SeekRequest describes a seek. When HasStart is false the position is
// left unchanged and only the rate and flags apply.
type SeekRequest struct {
	Rate     float64
	Flags    SeekFlags
	Start    time.Duration
	HasStart bool
}

// Pipeline is the top-level bin driving a graph.
type Pipeline interface {
	Add(e Element) error
	// SetState requests a state change. Transitions complete asynchronously.
	SetState(s State) error
	// State returns the current state.
	State() State
	// Seek may block, for example a non-flushing seek in PAUSED blocks
	// until the state changes.
	Seek(req SeekRequest) error
	// Position returns the stream position or ErrClockNotValid.
	Position() (time.Duration, error)
	SendEOS()
	Bus() Bus
}

// SyncHandler is called synchronously on the posting thread for every
// message before it is queued.
type SyncHandler func(*Message)

// Bus carries messages from the pipeline to the application.
type Bus interface {
	// Pop waits up to timeout for the next message. It returns nil on timeout.
	Pop(timeout time.Duration) *Message
	// SetSyncHandler installs h, or removes the handler when h is nil.
	SetSyncHandler(h SyncHandler)
}

// MessageType classifies bus messages.
type MessageType int

const (
	MessageElement MessageType = iota
	MessageError
	MessageEOS
	MessageSegmentDone
	MessageStateChanged
	MessageStreamStatus
)

func (t MessageType) String() string {
	switch t {
	case MessageElement:
		return "element"
	case MessageError:
		return "error"
	case MessageEOS:
		return "eos"
	case MessageSegmentDone:
		return "segment-done"
	case MessageStateChanged:
		return "state-changed"
	case MessageStreamStatus:
		return "stream-status"
	default:
		return "unknown"
	}
}

// Message is a bus message.
type Message struct {
	Type      MessageType
	Seqnum    uint32
	Src       string
	Structure *Structure
	Err       error
	Debug     string
}
