package navigator

import (
	"log/slog"
	"sync"

	"github.com/electwix/db-navigator/internal/meta"
)

// Op classifies a tree change event.
type Op string

const (
	// OpInvalidated means cached data under the path was discarded.
	OpInvalidated Op = "invalidated"
	// OpRefreshed means a population completed under the path.
	OpRefreshed Op = "refreshed"
	// OpStateChanged means a datasource connection state flipped.
	OpStateChanged Op = "state-changed"
)

// Event announces a change in the tree. Consumers refresh their views
// of the named subtree; they never mutate the tree from the event
// goroutine.
type Event struct {
	Path meta.Path
	Op   Op
}

// hub fans tree events out to subscribers. Delivery is best effort: a
// subscriber that stops draining loses events rather than blocking
// cache operations.
type hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		logger: logger,
		subs:   make(map[int]chan Event),
	}
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("navigator: dropping event for slow subscriber",
				"subscriber", id, "path", ev.Path, "op", ev.Op)
		}
	}
}

// Subscribe registers a change listener. The returned cancel function
// unregisters it and closes the channel.
func (t *Tree) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	t.hub.mu.Lock()
	id := t.hub.next
	t.hub.next++
	t.hub.subs[id] = ch
	t.hub.mu.Unlock()

	cancel := func() {
		t.hub.mu.Lock()
		if _, ok := t.hub.subs[id]; ok {
			delete(t.hub.subs, id)
			close(ch)
		}
		t.hub.mu.Unlock()
	}
	return ch, cancel
}
