package engine

import (
	"time"

	"github.com/kbukum/iceflow/bridge"
	"github.com/kbukum/iceflow/logger"
)

// RunState is the engine-level lifecycle of a pipeline.
type RunState int

const (
	StateFresh RunState = iota
	StatePaused
	StatePlaying
	StateStopping
	StateStopped
)

func (s RunState) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	defaultStateTimeout = 10 * time.Second
	defaultClockWait    = 50 * time.Second

	pumpPollTimeout       = 500 * time.Millisecond
	loopInterval          = 3 * time.Second
	seekIssueWait         = 500 * time.Millisecond
	seekJamAfter          = 500 * time.Millisecond
	seekOffset            = 8 * time.Millisecond
	stateSeekWait         = time.Second
	pumpExitWait          = 10 * time.Second
	stopNullWait          = time.Second
	realtimeGrace         = 3 * time.Second
	clockPollEvery        = 100 * time.Millisecond
	defaultPullWait       = 100 * time.Millisecond
	latestPullWait        = time.Millisecond
	latestPullTries       = 10
	defaultCaptureBuffers = 1
	loopLockWait          = time.Second
)

// Config configures one Pipeline.
type Config struct {
	Name string
	// Realtime is the SCHED_FIFO priority given to streaming threads.
	// Zero disables the sync handler.
	Realtime int
	// SystemTime keeps the stream position aligned with wall-clock time
	// since the effective start.
	SystemTime bool
	// StateTimeout bounds waits for state changes. Default 10s.
	StateTimeout time.Duration
	// ClockWait bounds the wait for a readable position after start.
	// Default 50s.
	ClockWait time.Duration
	// Priority elevates thread priority. Default SchedFIFO.
	Priority PrioritySetter
	Logger   *logger.Logger
}

func (c *Config) applyDefaults() {
	if c.StateTimeout <= 0 {
		c.StateTimeout = defaultStateTimeout
	}
	if c.ClockWait <= 0 {
		c.ClockWait = defaultClockWait
	}
	if c.Priority == nil {
		c.Priority = SchedFIFO{}
	}
}

// Emitter delivers events to the controller. *bridge.Conn implements it.
type Emitter interface {
	Notify(method bridge.Method, params any) error
}

type nopEmitter struct{}

func (nopEmitter) Notify(bridge.Method, any) error { return nil }

// ElementSpec describes an element to add.
type ElementSpec struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	// ConnectToOutput links the new element to these elements' outputs
	// instead of the last main-chain element.
	ConnectToOutput []Handle `json:"connect_to_output,omitempty"`
	// Unlinked skips linking entirely.
	Unlinked bool `json:"unlinked,omitempty"`
	// ConnectWhenAvailable links once the predecessor exposes a pad at
	// run time. CapsFilter restricts which pads qualify.
	ConnectWhenAvailable bool   `json:"connect_when_available,omitempty"`
	CapsFilter           string `json:"caps_filter,omitempty"`
	// LinkOnce drops the pending link after its first use.
	LinkOnce               bool           `json:"link_once,omitempty"`
	AutoInsertAudioConvert bool           `json:"auto_insert_audio_convert,omitempty"`
	Sidechain              bool           `json:"sidechain,omitempty"`
	Properties             map[string]any `json:"properties,omitempty"`
}

// StartOptions controls Start.
type StartOptions struct {
	// EffectiveStartTime is a unix time in seconds used to align several
	// instances. Zero means now.
	EffectiveStartTime float64 `json:"effective_start_time,omitempty"`
	// Timeout in seconds for reaching PLAYING. Zero uses the pipeline's
	// StateTimeout.
	Timeout float64 `json:"timeout,omitempty"`
	Segment bool    `json:"segment,omitempty"`
}

// PlayOptions controls Play and Restart.
type PlayOptions struct {
	Segment bool `json:"segment,omitempty"`
}

// SeekOptions controls Seek. Nil pointers keep the current value; Flush
// defaults to true.
type SeekOptions struct {
	Position *float64 `json:"position,omitempty"`
	Rate     *float64 `json:"rate,omitempty"`
	Flush    *bool    `json:"flush,omitempty"`
	Segment  bool     `json:"segment,omitempty"`
	Sync     bool     `json:"sync,omitempty"`
	Skip     bool     `json:"skip,omitempty"`
}

func (o SeekOptions) flush() bool { return o.Flush == nil || *o.Flush }

// CaptureOptions describes a video capture chain ending in an appsink.
type CaptureOptions struct {
	Width           int      `json:"width,omitempty"`
	Height          int      `json:"height,omitempty"`
	ConnectToOutput []Handle `json:"connect_to_output,omitempty"`
	Buffers         int      `json:"buffers,omitempty"`
	// Method is the videoscale method. Nil uses bilinear.
	Method *int `json:"method,omitempty"`
}

// PresenceOptions describes a presence detector. Regions are fractional
// [x, y, width, height] rectangles.
type PresenceOptions struct {
	Width           int                   `json:"width,omitempty"`
	Height          int                   `json:"height,omitempty"`
	ConnectToOutput []Handle              `json:"connect_to_output,omitempty"`
	Regions         map[string][4]float64 `json:"regions,omitempty"`
}

// PropertyRequest addresses one property of one element.
type PropertyRequest struct {
	Element  Handle `json:"element"`
	Property string `json:"property"`
	Value    any    `json:"value,omitempty"`
}

// PullRequest pulls a sample from an appsink. Timeout is in seconds.
type PullRequest struct {
	Element Handle  `json:"element"`
	Timeout float64 `json:"timeout,omitempty"`
	Path    string  `json:"path,omitempty"`
}

// ExistsRequest asks whether an element type is available.
type ExistsRequest struct {
	Type string `json:"type"`
}

// Event payloads.

type ErrorEvent struct {
	Source  string `json:"source"`
	Message string `json:"message"`
	Debug   string `json:"debug,omitempty"`
}

type LevelEvent struct {
	Source string  `json:"source"`
	RMS    float64 `json:"rms"`
	Decay  float64 `json:"decay"`
}

type BarcodeEvent struct {
	Type    string `json:"type"`
	Symbol  string `json:"symbol"`
	Quality int    `json:"quality"`
}

// VideoAnalyzeEvent carries luma statistics under both hyphenated and
// underscored keys.
type VideoAnalyzeEvent map[string]float64

type MultiFileSinkEvent struct {
	Filename string `json:"filename"`
}

// PresenceEvent carries the whole-image value, and per-region values
// when regions were configured. The whole image is region "".
type PresenceEvent struct {
	Value   float64            `json:"value"`
	Regions map[string]float64 `json:"regions,omitempty"`
}
