package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/haven/internal/store"
	"github.com/vovakirdan/haven/internal/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedAccount(t *testing.T, st store.AccountStore, uid, name string, verified bool) {
	t.Helper()

	err := st.CreateAccount(context.Background(), &store.Account{
		UID:           uid,
		DisplayName:   name,
		Email:         uid + "@example.com",
		EmailVerified: verified,
	})
	require.NoError(t, err)
}

func identity(uid, name string) *Identity {
	return &Identity{
		ParticipantID: ParticipantID(uid),
		DisplayName:   name,
		Email:         uid + "@example.com",
		EmailVerified: true,
	}
}

func newSignedInClient(t *testing.T, st store.Store, uid, name string) *Client {
	t.Helper()

	c := NewClient(uid+"-client", st, nil)
	t.Cleanup(c.Close)
	c.Gate.Handle(AuthEvent{Identity: identity(uid, name)})
	return c
}

func mustChatroom(t *testing.T, a, b string) ChatroomID {
	t.Helper()

	id, err := ResolveChatroomID(ParticipantID(a), ParticipantID(b))
	require.NoError(t, err)
	return id
}

// mustUpdate reads updates until cond holds. It fails on timeout or if the
// subscription closes first.
func mustUpdate[T any](t *testing.T, sub *Subscription[T], cond func(Update[T]) bool) Update[T] {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-sub.Updates():
			if !ok {
				t.Fatalf("subscription %s closed while waiting for update", sub.Kind())
			}
			if cond(u) {
				return u
			}
		case <-deadline:
			t.Fatalf("expected update on %s not received", sub.Kind())
			return Update[T]{}
		}
	}
}

// mustClose waits for the Updates channel of sub to be closed.
func mustClose[T any](t *testing.T, sub *Subscription[T]) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("expected %s to be closed", sub.Kind())
		}
	}
}

func hasMessages(n int) func(Update[[]Message]) bool {
	return func(u Update[[]Message]) bool { return u.Err == nil && len(u.Snapshot) == n }
}

func bodies(messages []Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Body)
	}
	return out
}

// failingStore reports err for every message operation.
type failingStore struct {
	store.Store
	err error
}

func (f failingStore) AppendMessage(context.Context, string, *store.Message) error {
	return f.err
}

func (f failingStore) WatchMessages(_ string, fn func([]*store.Message, error)) store.Unsubscribe {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(nil, f.err)
	}()
	return func() { <-done }
}

// fakeSource is an in-memory IdentitySource.
type fakeSource struct {
	current  *Identity
	watchers []func(AuthEvent)
	signOuts int
}

func (f *fakeSource) WatchIdentity(fn func(AuthEvent)) func() {
	f.watchers = append(f.watchers, fn)
	fn(AuthEvent{Identity: f.current})
	idx := len(f.watchers) - 1
	return func() { f.watchers[idx] = nil }
}

func (f *fakeSource) SignOut(context.Context) error {
	f.signOuts++
	f.emit(nil)
	return nil
}

func (f *fakeSource) emit(id *Identity) {
	f.current = id
	for _, fn := range f.watchers {
		if fn != nil {
			fn(AuthEvent{Identity: id})
		}
	}
}

// watchHookStore runs onWatch right before a watch is attached.
type watchHookStore struct {
	store.Store
	onWatch func()
}

func (h watchHookStore) WatchMessages(chatroomID string, fn func([]*store.Message, error)) store.Unsubscribe {
	h.onWatch()
	return h.Store.WatchMessages(chatroomID, fn)
}

func (h watchHookStore) WatchAccounts(fn func([]*store.Account, error)) store.Unsubscribe {
	h.onWatch()
	return h.Store.WatchAccounts(fn)
}
