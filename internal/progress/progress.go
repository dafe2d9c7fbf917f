package progress

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/examcrawl/internal/types"
)

// Observer receives broadcast events. A Send error detaches the observer.
type Observer interface {
	Send(types.Event) error
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(types.Event) error

// Send calls f(ev)
func (f ObserverFunc) Send(ev types.Event) error {
	return f(ev)
}

// Hub fans every event out to the currently attached observers
type Hub struct {
	observers map[int]Observer
	nextID    int
	logger    *log.Logger
	mu        sync.Mutex
}

// New creates a Hub. Log and error events are mirrored to logger when it is
// not nil.
func New(logger *log.Logger) *Hub {
	return &Hub{
		observers: make(map[int]Observer),
		logger:    logger,
	}
}

// Attach registers an observer and returns its handle
func (h *Hub) Attach(o Observer) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.observers[h.nextID] = o
	return h.nextID
}

// Detach removes an observer. Unknown handles are ignored.
func (h *Hub) Detach(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.observers, id)
}

// Count returns the number of attached observers
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Broadcast sends ev to every observer. Observers whose Send fails are
// detached; delivery to the rest continues.
func (h *Hub) Broadcast(ev types.Event) {
	h.mirror(ev)

	h.mu.Lock()
	snapshot := make(map[int]Observer, len(h.observers))
	for id, o := range h.observers {
		snapshot[id] = o
	}
	h.mu.Unlock()

	var failed []int
	for id, o := range snapshot {
		if err := o.Send(ev); err != nil {
			failed = append(failed, id)
		}
	}
	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	for _, id := range failed {
		delete(h.observers, id)
	}
	h.mu.Unlock()
}

func (h *Hub) mirror(ev types.Event) {
	if h.logger == nil {
		return
	}
	switch ev.Type {
	case types.EventLog, types.EventInfo:
		h.logger.Info(ev.Message)
	case types.EventError:
		h.logger.Error(ev.Message, "details", ev.Details)
	case types.EventComplete:
		h.logger.Info(ev.Message, "file", ev.FilePath)
	case types.EventProgress:
		if ev.Progress != nil {
			h.logger.Debug("progress", "value", *ev.Progress, "desc", ev.Description)
		}
	}
}

// Log broadcasts a log line
func (h *Hub) Log(msg string) {
	h.Broadcast(types.Event{Type: types.EventLog, Message: msg})
}

// Info broadcasts an informational message
func (h *Hub) Info(msg string) {
	h.Broadcast(types.Event{Type: types.EventInfo, Message: msg})
}

// Progress broadcasts a progress fraction clamped to [0,1]
func (h *Hub) Progress(fraction float64, desc string) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	h.Broadcast(types.Event{
		Type:        types.EventProgress,
		Message:     desc,
		Progress:    &fraction,
		Description: desc,
	})
}

// Complete broadcasts the successful end of a run
func (h *Hub) Complete(msg, filePath string, count int) {
	h.Broadcast(types.Event{
		Type:     types.EventComplete,
		Message:  msg,
		FilePath: filePath,
		Count:    &count,
	})
}

// Error broadcasts a run failure
func (h *Hub) Error(msg, details string) {
	h.Broadcast(types.Event{Type: types.EventError, Message: msg, Details: details})
}
