package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGateTransitions(t *testing.T) {
	g := NewGate(nil)
	var changes []SessionChange
	cancel := g.Subscribe(func(c SessionChange) { changes = append(changes, c) })
	defer cancel()

	_, ok := g.Current()
	require.False(t, ok)

	g.Handle(AuthEvent{}) // already signed out
	require.Empty(t, changes)

	g.Handle(AuthEvent{Identity: identity("alice", "Alice")})
	sess, ok := g.Current()
	require.True(t, ok)
	require.Equal(t, ParticipantID("alice"), sess.ParticipantID)
	require.False(t, sess.SignedInAt.IsZero())
	require.Len(t, changes, 1)
	require.False(t, changes[0].SignedOut())

	g.Handle(AuthEvent{Identity: identity("alice", "Alice")}) // duplicate
	require.Len(t, changes, 1)

	renamed := identity("alice", "Alicia")
	g.Handle(AuthEvent{Identity: renamed})
	require.Len(t, changes, 2)
	require.False(t, changes[1].SignedOut())
	updated, _ := g.Current()
	require.Equal(t, "Alicia", updated.DisplayName)
	require.Equal(t, sess.SignedInAt, updated.SignedInAt)

	g.Handle(AuthEvent{Identity: identity("bob", "Bob")})
	require.Len(t, changes, 3)
	require.True(t, changes[2].SignedOut(), "switching participants ends the previous session")

	require.NoError(t, g.SignOut(context.Background()))
	_, ok = g.Current()
	require.False(t, ok)
	require.Len(t, changes, 4)
	require.True(t, changes[3].SignedOut())
	require.Nil(t, changes[3].Current)
}

func TestGateFollowsIdentitySource(t *testing.T) {
	src := &fakeSource{current: identity("alice", "Alice")}
	g := NewGate(nil)
	g.Attach(src)

	sess, ok := g.Current()
	require.True(t, ok)
	require.Equal(t, ParticipantID("alice"), sess.ParticipantID)

	require.NoError(t, g.SignOut(context.Background()))
	require.Equal(t, 1, src.signOuts)
	_, ok = g.Current()
	require.False(t, ok)

	g.Detach()
	src.emit(identity("bob", "Bob"))
	_, ok = g.Current()
	require.False(t, ok, "detached gate ignores the source")
}

func TestSignOutClosesSessionBoundSubscriptions(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{current: identity("alice", "Alice")}
	c := NewClient("c1", st, nil)
	t.Cleanup(c.Close)
	c.Gate.Attach(src)

	chat, err := c.Messages.Open(mustChatroom(t, "alice", "bob"))
	require.NoError(t, err)
	dir := c.Directory.Open()
	mustUpdate(t, chat, hasMessages(0))
	require.Equal(t, 2, c.Subs.Len())

	require.NoError(t, c.Gate.SignOut(context.Background()))

	mustClose(t, chat)
	mustClose(t, dir)
	require.Equal(t, StateClosed, chat.State())
	require.Equal(t, StateClosed, dir.State())
	require.Equal(t, 0, c.Subs.Len())
	require.Equal(t, 0, st.ActiveWatches())

	_, err = c.Messages.Append(context.Background(), mustChatroom(t, "alice", "bob"), "too late")
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSwitchingParticipantClosesPreviousSubscriptions(t *testing.T) {
	st := newTestStore(t)
	c := newSignedInClient(t, st, "alice", "Alice")

	chat, err := c.Messages.Open(mustChatroom(t, "alice", "bob"))
	require.NoError(t, err)

	c.Gate.Handle(AuthEvent{Identity: identity("carol", "Carol")})
	mustClose(t, chat)
	require.Equal(t, 0, c.Subs.Len())
}

func TestProfileUpdateKeepsSubscriptions(t *testing.T) {
	st := newTestStore(t)
	c := newSignedInClient(t, st, "alice", "Alice")

	chat, err := c.Messages.Open(mustChatroom(t, "alice", "bob"))
	require.NoError(t, err)

	c.Gate.Handle(AuthEvent{Identity: identity("alice", "Alicia")})
	require.Equal(t, StateActive, chat.State())
	require.Equal(t, 1, c.Subs.Len())
}

func TestGateNotifiesListenersInRegistrationOrder(t *testing.T) {
	g := NewGate(nil)
	var order []int
	cancels := make([]func(), 0, 4)
	for i := range 4 {
		cancels = append(cancels, g.Subscribe(func(SessionChange) { order = append(order, i) }))
	}
	cancels[1]()

	g.Handle(AuthEvent{Identity: identity("alice", "Alice")})
	g.Handle(AuthEvent{})
	g.Handle(AuthEvent{Identity: identity("bob", "Bob")})

	require.Equal(t, []int{0, 2, 3, 0, 2, 3, 0, 2, 3}, order)
}
