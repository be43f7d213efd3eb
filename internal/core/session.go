package core

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	havenlog "github.com/vovakirdan/haven/internal/log"
)

// Identity is what the identity provider reports for a signed-in user.
type Identity struct {
	ParticipantID ParticipantID
	DisplayName   string
	Email         string
	EmailVerified bool
}

// AuthEvent is one identity change. A nil Identity means signed out.
type AuthEvent struct {
	Identity *Identity
}

// IdentitySource is the authentication collaborator the Gate listens to.
type IdentitySource interface {
	// WatchIdentity calls fn with the current state and again on every change.
	WatchIdentity(fn func(AuthEvent)) (unwatch func())
	// SignOut ends the provider's session; the provider then emits a signed-out event.
	SignOut(ctx context.Context) error
}

// Session is the authenticated identity of one client instance.
type Session struct {
	Identity
	SignedInAt time.Time
}

// SessionChange describes a transition seen by Gate subscribers.
// Previous and Current are nil when signed out.
type SessionChange struct {
	Previous *Session
	Current  *Session
}

// SignedOut reports whether the change ended a session for a participant,
// including a switch to a different participant.
func (c SessionChange) SignedOut() bool {
	if c.Previous == nil {
		return false
	}
	return c.Current == nil || c.Current.ParticipantID != c.Previous.ParticipantID
}

// Gate holds the Session of one client instance. It is the only writer of
// the Session; everything else reads it through Current.
type Gate struct {
	log *zerolog.Logger
	now func() time.Time

	// handleMu serializes auth events so subscribers see transitions in order.
	handleMu sync.Mutex

	mu        sync.RWMutex
	current   *Session
	listeners []gateListener
	nextID    int
	source    IdentitySource
	unwatch   func()
}

// NewGate creates a signed-out gate.
func NewGate(logger *zerolog.Logger) *Gate {
	return &Gate{
		log: havenlog.OrNop(logger),
		now: time.Now,
	}
}

// gateListener keeps registration order so every transition fans out the same way.
type gateListener struct {
	id int
	fn func(SessionChange)
}

// Attach starts following src. Any previously attached source is detached.
func (g *Gate) Attach(src IdentitySource) {
	g.Detach()
	g.mu.Lock()
	g.source = src
	g.mu.Unlock()

	unwatch := src.WatchIdentity(g.Handle)

	g.mu.Lock()
	g.unwatch = unwatch
	g.mu.Unlock()
}

// Detach stops following the identity source. The current session is kept.
func (g *Gate) Detach() {
	g.mu.Lock()
	unwatch := g.unwatch
	g.unwatch = nil
	g.source = nil
	g.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

// Current returns the session, if any.
func (g *Gate) Current() (Session, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.current == nil {
		return Session{}, false
	}
	return *g.current, true
}

// Subscribe registers fn for every session transition. Listeners run in
// registration order on the goroutine delivering the auth event and must not
// call Handle.
func (g *Gate) Subscribe(fn func(SessionChange)) (cancel func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners = append(g.listeners, gateListener{id: id, fn: fn})
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		g.listeners = slices.DeleteFunc(g.listeners, func(l gateListener) bool { return l.id == id })
		g.mu.Unlock()
	}
}

// SignOut asks the identity source to end the session. Without an attached
// source the session is cleared directly.
func (g *Gate) SignOut(ctx context.Context) error {
	g.mu.RLock()
	src := g.source
	g.mu.RUnlock()

	if src == nil {
		g.Handle(AuthEvent{})
		return nil
	}
	return src.SignOut(ctx)
}

// Handle applies an auth event. Repeated events for the same participant
// update profile fields without signing out.
func (g *Gate) Handle(ev AuthEvent) {
	g.handleMu.Lock()
	defer g.handleMu.Unlock()

	g.mu.Lock()
	prev := g.current
	var next *Session
	if ev.Identity != nil {
		next = &Session{Identity: *ev.Identity, SignedInAt: g.now()}
		if prev != nil && prev.ParticipantID == next.ParticipantID {
			next.SignedInAt = prev.SignedInAt
		}
	}
	if prev == nil && next == nil {
		g.mu.Unlock()
		return
	}
	if prev != nil && next != nil && *prev == *next {
		g.mu.Unlock()
		return
	}
	g.current = next
	listeners := make([]func(SessionChange), 0, len(g.listeners))
	for _, l := range g.listeners {
		listeners = append(listeners, l.fn)
	}
	g.mu.Unlock()

	change := SessionChange{Previous: prev, Current: next}
	switch {
	case next == nil:
		g.log.Info().Str("uid", string(prev.ParticipantID)).Msg("signed out")
	case prev == nil || change.SignedOut():
		g.log.Info().Str("uid", string(next.ParticipantID)).Bool("email_verified", next.EmailVerified).Msg("signed in")
	default:
		g.log.Debug().Str("uid", string(next.ParticipantID)).Msg("session updated")
	}

	for _, fn := range listeners {
		fn(change)
	}
}

// heldBy reports whether the gate still holds a session for p.
func heldBy(g *Gate, p ParticipantID) bool {
	cur, ok := g.Current()
	return ok && cur.ParticipantID == p
}
