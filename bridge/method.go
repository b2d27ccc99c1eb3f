package bridge

// Method names a request or event crossing the bridge. Only the
// enumerated methods are accepted.
type Method string

// Commands sent by the controller.
const (
	MethodPing            Method = "ping"
	MethodAddElement      Method = "add_element"
	MethodSetProperty     Method = "set_property"
	MethodGetProperty     Method = "get_property"
	MethodStart           Method = "start"
	MethodPause           Method = "pause"
	MethodPlay            Method = "play"
	MethodSeek            Method = "seek"
	MethodStop            Method = "stop"
	MethodPosition        Method = "get_position"
	MethodAddCapture      Method = "add_capture"
	MethodAddPresence     Method = "add_presence_detector"
	MethodPullBuffer      Method = "pull_buffer"
	MethodPullToFile      Method = "pull_to_file"
	MethodSendEOS         Method = "send_eos"
	MethodRestart         Method = "restart"
	MethodExitSegmentMode Method = "exit_segment_mode"
	MethodIsActive        Method = "is_active"
	MethodElementExists   Method = "element_exists"
)

// Events sent by the worker.
const (
	EventError          Method = "on_error"
	EventStreamFinished Method = "on_stream_finished"
	EventSegmentDone    Method = "on_segment_done"
	EventLevel          Method = "on_level_message"
	EventMotionBegin    Method = "on_motion_begin"
	EventMotionEnd      Method = "on_motion_end"
	EventVideoAnalyze   Method = "on_video_analyze"
	EventBarcode        Method = "on_barcode"
	EventMultiFileSink  Method = "on_multi_file_sink"
	EventPresence       Method = "on_presence_value"
)

var commands = map[Method]struct{}{
	MethodPing: {}, MethodAddElement: {}, MethodSetProperty: {}, MethodGetProperty: {},
	MethodStart: {}, MethodPause: {}, MethodPlay: {}, MethodSeek: {}, MethodStop: {},
	MethodPosition: {}, MethodAddCapture: {}, MethodAddPresence: {}, MethodPullBuffer: {},
	MethodPullToFile: {}, MethodSendEOS: {}, MethodRestart: {}, MethodExitSegmentMode: {},
	MethodIsActive: {}, MethodElementExists: {},
}

var events = map[Method]struct{}{
	EventError: {}, EventStreamFinished: {}, EventSegmentDone: {}, EventLevel: {},
	EventMotionBegin: {}, EventMotionEnd: {}, EventVideoAnalyze: {}, EventBarcode: {},
	EventMultiFileSink: {}, EventPresence: {},
}

// IsCommand reports whether m is a known request method.
func (m Method) IsCommand() bool {
	_, ok := commands[m]
	return ok
}

// IsEvent reports whether m is a known event method.
func (m Method) IsEvent() bool {
	_, ok := events[m]
	return ok
}

// Sheddable reports whether m is a periodic reading that a newer one
// replaces, so it may be dropped when the receiver falls behind.
func (m Method) Sheddable() bool {
	return m == EventLevel || m == EventPresence
}

func (m Method) String() string { return string(m) }
