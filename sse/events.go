package sse

const (
	// EventConnected is the first frame every client receives.
	EventConnected = "connected"
)
