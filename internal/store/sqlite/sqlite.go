package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/haven/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db      *sql.DB
	now     func() time.Time
	watches *watchRegistry

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// Option customizes a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the clock used to stamp messages and accounts.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file, or ":memory:".
func New(dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SQLiteStore{
		db:      db,
		now:     time.Now,
		watches: newWatchRegistry(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Close stops every watch and closes the database connection.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		for _, w := range s.watches.shutdown() {
			w.stop()
		}
		s.cancel()
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// ActiveWatches reports how many watches are registered.
func (s *SQLiteStore) ActiveWatches() int {
	return s.watches.count()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ==== AccountStore implementation ====

const accountColumns = `uid, display_name, email, email_verified, password_hash, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*store.Account, error) {
	var acc store.Account
	if err := row.Scan(
		&acc.UID,
		&acc.DisplayName,
		&acc.Email,
		&acc.EmailVerified,
		&acc.PasswordHash,
		&acc.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &acc, nil
}

// CreateAccount inserts a new account.
func (s *SQLiteStore) CreateAccount(ctx context.Context, acc *store.Account) error {
	if acc.Email == "" {
		return errors.New("email is required")
	}
	if acc.UID == "" {
		acc.UID = uuid.NewString()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = s.now().UTC()
	}

	query := `
		INSERT INTO accounts (uid, display_name, email, email_verified, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		acc.UID, acc.DisplayName, acc.Email, acc.EmailVerified, acc.PasswordHash, acc.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert account %s: %w", acc.Email, store.ErrAlreadyExists)
		}
		return fmt.Errorf("insert account: %w", err)
	}

	s.watches.notify(accountsTopic)
	return nil
}

// GetAccount retrieves an account by uid.
func (s *SQLiteStore) GetAccount(ctx context.Context, uid string) (*store.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE uid = ?`
	acc, err := scanAccount(s.db.QueryRowContext(ctx, query, uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", uid, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query account: %w", err)
	}
	return acc, nil
}

// GetAccountByEmail retrieves an account by email.
func (s *SQLiteStore) GetAccountByEmail(ctx context.Context, email string) (*store.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = ?`
	acc, err := scanAccount(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", email, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query account: %w", err)
	}
	return acc, nil
}

// SetEmailVerified flips the verification flag of an account.
func (s *SQLiteStore) SetEmailVerified(ctx context.Context, uid string, verified bool) error {
	return s.updateAccount(ctx, `UPDATE accounts SET email_verified = ? WHERE uid = ?`, verified, uid)
}

// UpdateDisplayName renames an account.
func (s *SQLiteStore) UpdateDisplayName(ctx context.Context, uid, displayName string) error {
	return s.updateAccount(ctx, `UPDATE accounts SET display_name = ? WHERE uid = ?`, displayName, uid)
}

func (s *SQLiteStore) updateAccount(ctx context.Context, query string, value any, uid string) error {
	result, err := s.db.ExecContext(ctx, query, value, uid)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("account %s: %w", uid, store.ErrNotFound)
	}

	s.watches.notify(accountsTopic)
	return nil
}

// ListAccounts returns every account in insertion order.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*store.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY rowid ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*store.Account, 0)
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	return accounts, rows.Err()
}

// WatchAccounts delivers the account collection now and after every change.
func (s *SQLiteStore) WatchAccounts(fn func([]*store.Account, error)) store.Unsubscribe {
	return watch(s, accountsTopic, s.ListAccounts, fn)
}

// ==== MessageStore implementation ====

// AppendMessage stamps and persists a message. The timestamp is the later of
// the store clock and the newest timestamp already in the chatroom, so a clock
// step backwards cannot reorder the log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, chatroomID string, msg *store.Message) error {
	if chatroomID == "" {
		return errors.New("chatroom id is required")
	}
	if msg.UID == "" {
		return errors.New("uid is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	var last sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM messages WHERE chatroom_id = ?`, chatroomID).Scan(&last)
	if err != nil {
		return fmt.Errorf("query last timestamp: %w", err)
	}

	ts := s.now().UTC().UnixNano()
	if last.Valid && last.Int64 > ts {
		ts = last.Int64
	}

	id := uuid.NewString()
	query := `
		INSERT INTO messages (id, chatroom_id, uid, display_name, text, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query, id, chatroomID, msg.UID, msg.DisplayName, msg.Text, ts)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	msg.ID = id
	msg.Seq = seq
	msg.ChatroomID = chatroomID
	msg.Timestamp = time.Unix(0, ts).UTC()

	s.watches.notify(messagesTopic(chatroomID))
	return nil
}

// ListMessages returns a chatroom's messages in log order.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatroomID string) ([]*store.Message, error) {
	query := `
		SELECT seq, id, chatroom_id, uid, display_name, text, timestamp
		FROM messages
		WHERE chatroom_id = ?
		ORDER BY timestamp ASC, seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, chatroomID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		var msg store.Message
		var ts int64
		if err := rows.Scan(&msg.Seq, &msg.ID, &msg.ChatroomID, &msg.UID, &msg.DisplayName, &msg.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Timestamp = time.Unix(0, ts).UTC()
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// WatchMessages delivers a chatroom's messages now and after every append to it.
func (s *SQLiteStore) WatchMessages(chatroomID string, fn func([]*store.Message, error)) store.Unsubscribe {
	load := func(ctx context.Context) ([]*store.Message, error) {
		return s.ListMessages(ctx, chatroomID)
	}
	return watch(s, messagesTopic(chatroomID), load, fn)
}
