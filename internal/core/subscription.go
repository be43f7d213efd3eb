package core

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	havenlog "github.com/vovakirdan/haven/internal/log"
	"github.com/vovakirdan/haven/internal/store"
)

// SubscriptionState is the lifecycle position of a Subscription.
type SubscriptionState int

const (
	// StateUnopened is a subscription not yet registered with the store.
	StateUnopened SubscriptionState = iota
	// StateActive is a subscription receiving snapshots.
	StateActive
	// StateClosed is terminal.
	StateClosed
)

func (s SubscriptionState) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Update is one delivery on a subscription: either a complete snapshot or
// the failure the store reported. An empty Snapshot with a nil Err means
// the collection is empty; a non-nil Err means the subscription is broken.
type Update[T any] struct {
	Snapshot T
	Err      error
}

// Subscription is a live view of one store collection. Updates carry whole
// snapshots; at most one unread update is buffered and a newer one replaces it,
// so a slow reader only ever sees the latest state.
type Subscription[T any] struct {
	id           string
	kind         string
	sessionBound bool

	mu          sync.Mutex
	state       SubscriptionState
	updates     chan Update[T]
	last        *Update[T]
	unsubscribe store.Unsubscribe
	refresh     func()
	onClose     func()
}

func newSubscription[T any](kind string, sessionBound bool) *Subscription[T] {
	return &Subscription[T]{
		id:           uuid.NewString(),
		kind:         kind,
		sessionBound: sessionBound,
		state:        StateUnopened,
		updates:      make(chan Update[T], 1),
	}
}

// ID identifies the subscription within its Manager.
func (s *Subscription[T]) ID() string { return s.id }

// Kind describes what is being watched, e.g. "directory" or "chatroom:a_b".
func (s *Subscription[T]) Kind() string { return s.kind }

// Updates is closed when the subscription is closed.
func (s *Subscription[T]) Updates() <-chan Update[T] { return s.updates }

// State reports the current lifecycle state.
func (s *Subscription[T]) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Latest returns the most recent update handed to the subscription, read or not.
func (s *Subscription[T]) Latest() (Update[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		var zero Update[T]
		return zero, false
	}
	return *s.last, true
}

// Close unregisters the subscription from the store and closes Updates.
// No update is sent after Close returns. Closing twice is a no-op.
func (s *Subscription[T]) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	select {
	case <-s.updates:
	default:
	}
	close(s.updates)
	onClose := s.onClose
	s.mu.Unlock()

	// The store waits for an in-flight callback, which needs s.mu.
	if unsubscribe != nil {
		unsubscribe()
	}
	if onClose != nil {
		onClose()
	}
}

func (s *Subscription[T]) push(u Update[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.last = &u
	// Only push sends, under s.mu, so after draining there is room.
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- u:
	default:
	}
}

func (s *Subscription[T]) subscriptionID() string { return s.id }

func (s *Subscription[T]) boundToSession() bool { return s.sessionBound }

func (s *Subscription[T]) redeliver() {
	s.mu.Lock()
	refresh := s.refresh
	s.mu.Unlock()
	if refresh != nil {
		refresh()
	}
}

// handle is the type-erased view the Manager keeps of every subscription.
type handle interface {
	subscriptionID() string
	boundToSession() bool
	redeliver()
	Kind() string
	Close()
}

// Manager owns every live subscription of one client. Each Open must be
// matched by a Close; Manager.Len makes leaks observable.
type Manager struct {
	log *zerolog.Logger

	mu   sync.Mutex
	subs map[string]handle
}

// NewManager creates an empty subscription manager.
func NewManager(logger *zerolog.Logger) *Manager {
	return &Manager{
		log:  havenlog.OrNop(logger),
		subs: make(map[string]handle),
	}
}

// Len returns the number of active subscriptions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close closes the subscription with the given id. It reports false when the
// id is unknown, which includes subscriptions that are already closed.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	h, ok := m.subs[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	h.Close()
	return true
}

// CloseAll closes every subscription.
func (m *Manager) CloseAll() int {
	return m.closeWhere(func(handle) bool { return true })
}

// CloseSessionBound closes every subscription opened under a session.
func (m *Manager) CloseSessionBound() int {
	return m.closeWhere(handle.boundToSession)
}

func (m *Manager) closeWhere(match func(handle) bool) int {
	m.mu.Lock()
	victims := make([]handle, 0, len(m.subs))
	for _, h := range m.subs {
		if match(h) {
			victims = append(victims, h)
		}
	}
	m.mu.Unlock()

	for _, h := range victims {
		h.Close()
		m.log.Debug().Str("sub_id", h.subscriptionID()).Str("kind", h.Kind()).Msg("subscription closed")
	}
	return len(victims)
}

// Refresh re-renders the last store snapshot of every subscription. Used when
// the session changes, since filtering depends on it.
func (m *Manager) Refresh() {
	m.mu.Lock()
	all := make([]handle, 0, len(m.subs))
	for _, h := range m.subs {
		all = append(all, h)
	}
	m.mu.Unlock()

	for _, h := range all {
		h.redeliver()
	}
}

func (m *Manager) add(h handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[h.subscriptionID()] = h
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
}

// openSubscription registers a subscription with the Manager and the store.
// watch attaches a callback to a store collection; render turns each raw store
// snapshot into what the subscriber sees and runs again on Refresh.
func openSubscription[R, T any](
	m *Manager,
	kind string,
	sessionBound bool,
	watch func(func(R, error)) store.Unsubscribe,
	render func(R) T,
) *Subscription[T] {
	sub := newSubscription[T](kind, sessionBound)

	// Serializes store deliveries with refreshes so an older raw snapshot can
	// never be rendered after a newer one.
	var (
		rawMu   sync.Mutex
		raw     R
		haveRaw bool
	)
	deliver := func(docs R, err error) {
		rawMu.Lock()
		defer rawMu.Unlock()
		if err != nil {
			m.log.Warn().Err(err).Str("sub_id", sub.id).Str("kind", kind).Msg("subscription delivery failed")
			sub.push(Update[T]{Err: err})
			return
		}
		raw, haveRaw = docs, true
		sub.push(Update[T]{Snapshot: render(docs)})
	}
	refresh := func() {
		rawMu.Lock()
		defer rawMu.Unlock()
		if haveRaw {
			sub.push(Update[T]{Snapshot: render(raw)})
		}
	}

	sub.mu.Lock()
	sub.state = StateActive
	sub.refresh = refresh
	sub.onClose = func() { m.remove(sub.id) }
	sub.mu.Unlock()
	m.add(sub)

	unsubscribe := watch(deliver)

	sub.mu.Lock()
	if sub.state == StateClosed {
		sub.mu.Unlock()
		unsubscribe()
		return sub
	}
	sub.unsubscribe = unsubscribe
	sub.mu.Unlock()

	m.log.Debug().Str("sub_id", sub.id).Str("kind", kind).Bool("session_bound", sessionBound).Msg("subscription opened")
	return sub
}
