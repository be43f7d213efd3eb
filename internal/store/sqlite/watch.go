package sqlite

import (
	"context"
	"sync"

	"github.com/vovakirdan/haven/internal/store"
)

const accountsTopic = "accounts"

func messagesTopic(chatroomID string) string {
	return "messages:" + chatroomID
}

// watcher is one registered listener. Wake-ups coalesce: any number of
// writes while a snapshot is being loaded cause exactly one more load.
type watcher struct {
	wake     chan struct{}
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func newWatcher() *watcher {
	w := &watcher{
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	w.wake <- struct{}{} // initial snapshot
	return w
}

func (w *watcher) poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// stop ends the delivery loop and waits for an in-flight callback to return.
func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
	<-w.finished
}

type watchRegistry struct {
	mu     sync.Mutex
	topics map[string]map[*watcher]struct{}
	closed bool
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{topics: make(map[string]map[*watcher]struct{})}
}

func (r *watchRegistry) add(topic string, w *watcher) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	set, ok := r.topics[topic]
	if !ok {
		set = make(map[*watcher]struct{})
		r.topics[topic] = set
	}
	set[w] = struct{}{}
	return true
}

func (r *watchRegistry) remove(topic string, w *watcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(set, w)
	if len(set) == 0 {
		delete(r.topics, topic)
	}
}

func (r *watchRegistry) notify(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for w := range r.topics[topic] {
		w.poke()
	}
}

func (r *watchRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.topics {
		n += len(set)
	}
	return n
}

// shutdown detaches every watcher and refuses new ones.
func (r *watchRegistry) shutdown() []*watcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var all []*watcher
	for _, set := range r.topics {
		for w := range set {
			all = append(all, w)
		}
	}
	r.topics = make(map[string]map[*watcher]struct{})
	return all
}

// watch runs load on registration and after every notify of topic, handing
// each result to fn. Calls to fn are serialized per watcher.
func watch[T any](s *SQLiteStore, topic string, load func(context.Context) (T, error), fn func(T, error)) store.Unsubscribe {
	w := newWatcher()
	registered := s.watches.add(topic, w)

	go func() {
		defer close(w.finished)
		for {
			select {
			case <-w.done:
				return
			case <-w.wake:
			}

			docs, err := load(s.ctx)

			select {
			case <-w.done:
				return
			default:
			}
			fn(docs, err)
		}
	}()

	return func() {
		if registered {
			s.watches.remove(topic, w)
		}
		w.stop()
	}
}
