package core

import (
	"fmt"
	"strings"
)

// ParticipantID identifies an authenticated account. It is opaque and case-sensitive.
type ParticipantID string

// ChatroomID names the one-to-one conversation between two participants.
// Membership is encoded in the id itself; there is no separate member list.
type ChatroomID string

// ChatroomSeparator joins the two participant ids of a ChatroomID and is
// therefore forbidden inside a ParticipantID.
const ChatroomSeparator = "_"

// Validate reports ErrInvalidParticipant for an empty id or one containing the separator.
func (p ParticipantID) Validate() error {
	if p == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidParticipant)
	}
	if strings.Contains(string(p), ChatroomSeparator) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidParticipant, p, ChatroomSeparator)
	}
	return nil
}

// ResolveChatroomID derives the chatroom shared by a and b.
// The ids are ordered bytewise before joining, so the argument order does not matter.
func ResolveChatroomID(a, b ParticipantID) (ChatroomID, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	if err := b.Validate(); err != nil {
		return "", err
	}
	if b < a {
		a, b = b, a
	}
	return ChatroomID(string(a) + ChatroomSeparator + string(b)), nil
}

// ParseChatroomID recovers the two members of id in canonical order.
func ParseChatroomID(id ChatroomID) (ParticipantID, ParticipantID, error) {
	first, second, ok := strings.Cut(string(id), ChatroomSeparator)
	if !ok {
		return "", "", fmt.Errorf("%w: chatroom %q has no separator", ErrInvalidParticipant, id)
	}
	a, b := ParticipantID(first), ParticipantID(second)
	if err := a.Validate(); err != nil {
		return "", "", err
	}
	if err := b.Validate(); err != nil {
		return "", "", err
	}
	if b < a {
		return "", "", fmt.Errorf("%w: chatroom %q is not canonical", ErrInvalidParticipant, id)
	}
	return a, b, nil
}

// Has reports whether p is one of the two members of the chatroom.
func (c ChatroomID) Has(p ParticipantID) bool {
	a, b, err := ParseChatroomID(c)
	if err != nil {
		return false
	}
	return p == a || p == b
}

// Peer returns the member of the chatroom that is not self.
func (c ChatroomID) Peer(self ParticipantID) (ParticipantID, error) {
	a, b, err := ParseChatroomID(c)
	if err != nil {
		return "", err
	}
	switch self {
	case a:
		return b, nil
	case b:
		return a, nil
	default:
		return "", ErrNotMember
	}
}
