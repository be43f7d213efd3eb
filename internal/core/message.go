package core

import (
	"cmp"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/vovakirdan/haven/internal/store"
)

// MessageID is assigned by the store on append and is unique within a chatroom.
type MessageID string

// Message is the domain model for a chat message. It is immutable once appended.
type Message struct {
	ID          MessageID
	Chatroom    ChatroomID
	SenderID    ParticipantID
	DisplayName string // sender's name at send time, not updated on rename
	Body        string
	SentAt      time.Time // assigned by the store, never by the sender
	Seq         int64
}

// DirectoryEntry is one user as listed in the directory feed.
type DirectoryEntry struct {
	ParticipantID ParticipantID
	DisplayName   string
	Verified      bool
}

func messageFromDoc(doc *store.Message) Message {
	return Message{
		ID:          MessageID(doc.ID),
		Chatroom:    ChatroomID(doc.ChatroomID),
		SenderID:    ParticipantID(doc.UID),
		DisplayName: doc.DisplayName,
		Body:        doc.Text,
		SentAt:      doc.Timestamp,
		Seq:         doc.Seq,
	}
}

// MessagesFromDocs converts a store snapshot into log order: SentAt ascending,
// ties broken by store insertion order.
func MessagesFromDocs(docs []*store.Message) []Message {
	messages := lo.Map(docs, func(doc *store.Message, _ int) Message {
		return messageFromDoc(doc)
	})
	slices.SortStableFunc(messages, func(a, b Message) int {
		if c := a.SentAt.Compare(b.SentAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return messages
}
