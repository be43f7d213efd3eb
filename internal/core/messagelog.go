package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	havenlog "github.com/vovakirdan/haven/internal/log"
	"github.com/vovakirdan/haven/internal/store"
)

// anonymousName is used when neither the account nor the session has a display name.
const anonymousName = "Anonymous"

// MessageLog gives gated access to the append-only message log of each chatroom.
type MessageLog struct {
	store store.Store
	gate  *Gate
	subs  *Manager
	log   *zerolog.Logger
}

// NewMessageLog creates a message log bound to one client's gate and manager.
func NewMessageLog(st store.Store, gate *Gate, subs *Manager, logger *zerolog.Logger) *MessageLog {
	return &MessageLog{store: st, gate: gate, subs: subs, log: havenlog.OrNop(logger)}
}

// Open subscribes to a chatroom. The first update is the full current log;
// each later update is the full log after an append.
func (l *MessageLog) Open(id ChatroomID) (*Subscription[[]Message], error) {
	sess, err := l.authorize(id)
	if err != nil {
		return nil, err
	}

	watch := func(fn func([]*store.Message, error)) store.Unsubscribe {
		return l.store.WatchMessages(string(id), fn)
	}
	sub := openSubscription(l.subs, "chatroom:"+string(id), true, watch, MessagesFromDocs)

	// A sign-out between authorize and registration missed CloseSessionBound.
	if !heldBy(l.gate, sess.ParticipantID) {
		sub.Close()
		return nil, ErrNotAuthenticated
	}
	return sub, nil
}

// Append writes body to the chatroom as the session participant and returns
// the store-assigned id once the store has acknowledged the write. The new
// message reaches subscribers, the sender's included, only through their
// subscriptions.
func (l *MessageLog) Append(ctx context.Context, id ChatroomID, body string) (MessageID, error) {
	sess, err := l.authorize(id)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyBody
	}

	doc := &store.Message{
		UID:         string(sess.ParticipantID),
		DisplayName: l.displayName(ctx, sess),
		Text:        body,
	}
	if err := l.store.AppendMessage(ctx, string(id), doc); err != nil {
		l.log.Warn().Err(err).Str("chatroom_id", string(id)).Msg("append failed")
		return "", fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	l.log.Debug().Str("chatroom_id", string(id)).Str("message_id", doc.ID).Msg("message appended")
	return MessageID(doc.ID), nil
}

func (l *MessageLog) authorize(id ChatroomID) (Session, error) {
	sess, ok := l.gate.Current()
	if !ok {
		return Session{}, ErrNotAuthenticated
	}
	if _, _, err := ParseChatroomID(id); err != nil {
		return Session{}, err
	}
	if !id.Has(sess.ParticipantID) {
		return Session{}, ErrNotMember
	}
	return sess, nil
}

// displayName snapshots the sender's current profile name.
func (l *MessageLog) displayName(ctx context.Context, sess Session) string {
	acc, err := l.store.GetAccount(ctx, string(sess.ParticipantID))
	if err == nil && acc.DisplayName != "" {
		return acc.DisplayName
	}
	if err != nil {
		l.log.Debug().Err(err).Str("uid", string(sess.ParticipantID)).Msg("display name lookup failed")
	}
	if sess.DisplayName != "" {
		return sess.DisplayName
	}
	return anonymousName
}
