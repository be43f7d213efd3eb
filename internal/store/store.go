package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a unique field (uid, email) is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// Account is the per-user document: {uid, displayName, email, emailVerified}.
// PasswordHash belongs to the identity provider and is never shown to viewers.
type Account struct {
	UID           string
	DisplayName   string
	Email         string
	EmailVerified bool
	PasswordHash  string
	CreatedAt     time.Time
}

// Message is one document of a chatroom's message sub-collection:
// {uid, displayName, text, timestamp}.
type Message struct {
	ID          string
	Seq         int64 // store insertion order, used to break timestamp ties
	ChatroomID  string
	UID         string
	DisplayName string
	Text        string
	Timestamp   time.Time
}

// Unsubscribe stops a watch. It is safe to call more than once and must not be
// called from inside the watch callback.
type Unsubscribe func()

// AccountStore handles account persistence.
type AccountStore interface {
	// CreateAccount inserts a new account. An empty UID is assigned by the store.
	CreateAccount(ctx context.Context, acc *Account) error

	// GetAccount retrieves an account by uid.
	GetAccount(ctx context.Context, uid string) (*Account, error)

	// GetAccountByEmail retrieves an account by email.
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)

	// SetEmailVerified flips the verification flag of an account.
	SetEmailVerified(ctx context.Context, uid string, verified bool) error

	// UpdateDisplayName renames an account. Already sent messages keep the old name.
	UpdateDisplayName(ctx context.Context, uid, displayName string) error

	// ListAccounts returns every account ordered by creation.
	ListAccounts(ctx context.Context) ([]*Account, error)

	// WatchAccounts delivers the full account collection now and after every change.
	WatchAccounts(fn func([]*Account, error)) Unsubscribe
}

// MessageStore handles chatroom message persistence.
type MessageStore interface {
	// AppendMessage writes one message. ID, Seq, ChatroomID and Timestamp are
	// assigned by the store; Timestamp never goes backwards within a chatroom.
	AppendMessage(ctx context.Context, chatroomID string, msg *Message) error

	// ListMessages returns a chatroom's messages ordered by timestamp, then seq.
	ListMessages(ctx context.Context, chatroomID string) ([]*Message, error)

	// WatchMessages delivers the ordered messages of a chatroom now and after every append.
	WatchMessages(chatroomID string, fn func([]*Message, error)) Unsubscribe
}

// Store aggregates all storage interfaces.
type Store interface {
	AccountStore
	MessageStore

	// Close stops all watches and closes the underlying database connection.
	Close() error
}
