package sse

// Broadcaster sends frames to the clients matching a glob pattern.
type Broadcaster interface {
	Broadcast(pattern string, f Frame)
}
