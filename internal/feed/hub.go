package feed

import (
	"sync"

	"github.com/tonimelisma/clipcloud/internal/queue"
)

// subscriberBuffer is how many messages a websocket client may fall behind
// before it is disconnected.
const subscriberBuffer = 64

type subscriber struct {
	msgs chan Message

	// closeSlow is called once when the subscriber cannot keep up.
	closeSlow func()
}

// hub fans queue events out to websocket subscribers. Publishing never
// blocks the queue.
type hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

func (h *hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

func (h *hub) publish(ev queue.Event) {
	msg := eventMessage(ev)

	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		select {
		case s.msgs <- msg:
		default:
			delete(h.subs, s)
			go s.closeSlow()
		}
	}
}
