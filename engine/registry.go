package engine

import (
	"slices"
	"sync"
)

// HardwarePrefix marks element types that use the shared audio server.
const HardwarePrefix = "jackaudio"

// ChannelRegistry is told when a pipeline starts or stops using shared
// hardware channels.
type ChannelRegistry interface {
	Join(id string)
	Leave(id string)
}

// HardwareChannels is the default ChannelRegistry. It only tracks
// membership.
type HardwareChannels struct {
	mu      sync.Mutex
	members map[string]struct{}
}

// NewHardwareChannels returns an empty registry.
func NewHardwareChannels() *HardwareChannels {
	return &HardwareChannels{members: make(map[string]struct{})}
}

func (h *HardwareChannels) Join(id string) {
	h.mu.Lock()
	h.members[id] = struct{}{}
	h.mu.Unlock()
}

func (h *HardwareChannels) Leave(id string) {
	h.mu.Lock()
	delete(h.members, id)
	h.mu.Unlock()
}

// Members returns the registered pipeline ids, sorted.
func (h *HardwareChannels) Members() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.members))
	for id := range h.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
