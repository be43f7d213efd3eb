package core

import (
	"cmp"
	"slices"

	"github.com/samber/lo"

	"github.com/vovakirdan/haven/internal/store"
)

// DirectoryFeed lists the users the session holder can start a chat with.
type DirectoryFeed struct {
	store store.AccountStore
	gate  *Gate
	subs  *Manager
}

// NewDirectoryFeed creates a directory feed bound to one client's gate and manager.
func NewDirectoryFeed(st store.AccountStore, gate *Gate, subs *Manager) *DirectoryFeed {
	return &DirectoryFeed{store: st, gate: gate, subs: subs}
}

// Open subscribes to the directory. It never fails: without a session every
// update carries an empty set. Filtering runs on each delivery against the
// session at that moment.
func (d *DirectoryFeed) Open() *Subscription[[]DirectoryEntry] {
	sess, signedIn := d.gate.Current()
	render := func(accounts []*store.Account) []DirectoryEntry {
		sess, ok := d.gate.Current()
		if !ok {
			return []DirectoryEntry{}
		}
		return VisibleEntries(accounts, sess.ParticipantID)
	}
	sub := openSubscription(d.subs, "directory", signedIn, d.store.WatchAccounts, render)
	if signedIn && !heldBy(d.gate, sess.ParticipantID) {
		sub.Close()
	}
	return sub
}

// VisibleEntries keeps verified accounts other than self, ordered by display
// name then id.
func VisibleEntries(accounts []*store.Account, self ParticipantID) []DirectoryEntry {
	visible := lo.FilterMap(accounts, func(acc *store.Account, _ int) (DirectoryEntry, bool) {
		if !acc.EmailVerified || ParticipantID(acc.UID) == self {
			return DirectoryEntry{}, false
		}
		return DirectoryEntry{
			ParticipantID: ParticipantID(acc.UID),
			DisplayName:   acc.DisplayName,
			Verified:      acc.EmailVerified,
		}, true
	})
	slices.SortFunc(visible, func(a, b DirectoryEntry) int {
		if c := cmp.Compare(a.DisplayName, b.DisplayName); c != 0 {
			return c
		}
		return cmp.Compare(a.ParticipantID, b.ParticipantID)
	})
	return visible
}
