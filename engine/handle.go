package engine

import (
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/kbukum/iceflow/media"
)

// Handle identifies an element across the process boundary. Handles are
// never reused within one Runtime.
type Handle uint64

func (h Handle) String() string { return strconv.FormatUint(uint64(h), 10) }

type entry struct {
	el    media.Element
	typ   string
	owner uuid.UUID
}

// Arena maps handles to elements.
type Arena struct {
	mu      sync.RWMutex
	next    Handle
	entries map[Handle]entry
}

// NewArena returns an empty arena. The first handle is 1.
func NewArena() *Arena {
	return &Arena{entries: make(map[Handle]entry)}
}

// Put registers el and returns its new handle.
func (a *Arena) Put(el media.Element, typ string, owner uuid.UUID) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	a.entries[a.next] = entry{el: el, typ: typ, owner: owner}
	return a.next
}

func (a *Arena) get(h Handle) (entry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[h]
	return e, ok
}

// Element returns the element behind h.
func (a *Arena) Element(h Handle) (media.Element, bool) {
	e, ok := a.get(h)
	return e.el, ok
}

// Release forgets h. The handle value is not handed out again.
func (a *Arena) Release(h Handle) {
	a.mu.Lock()
	delete(a.entries, h)
	a.mu.Unlock()
}

// Len returns the number of live handles.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}
