package http

import (
	"github.com/samber/lo"

	"github.com/vovakirdan/haven/internal/core"
	"github.com/vovakirdan/haven/internal/proto"
)

func chatroomSnapshot(id core.ChatroomID, messages []core.Message) proto.ChatroomSnapshot {
	return proto.ChatroomSnapshot{
		ChatroomID: string(id),
		Messages: lo.Map(messages, func(m core.Message, _ int) proto.EventMessage {
			return proto.EventMessage{
				ID:          string(m.ID),
				ChatroomID:  string(m.Chatroom),
				UID:         string(m.SenderID),
				DisplayName: m.DisplayName,
				Text:        m.Body,
				TS:          m.SentAt.UnixMilli(),
			}
		}),
	}
}

func directoryEntries(entries []core.DirectoryEntry) []proto.DirectoryEntry {
	return lo.Map(entries, func(e core.DirectoryEntry, _ int) proto.DirectoryEntry {
		return proto.DirectoryEntry{
			UID:         string(e.ParticipantID),
			DisplayName: e.DisplayName,
			Verified:    e.Verified,
		}
	})
}

func sessionData(sess core.Session, ok bool) proto.SessionData {
	if !ok {
		return proto.SessionData{}
	}
	return proto.SessionData{
		SignedIn:      true,
		UID:           string(sess.ParticipantID),
		DisplayName:   sess.DisplayName,
		EmailVerified: sess.EmailVerified,
	}
}

func protoError(err error) *proto.Error {
	ce := core.AsCoreError(err)
	if ce == nil {
		return nil
	}
	return &proto.Error{Code: ce.Code, Msg: ce.Message}
}

func errorOutbound(ref string, err error) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, Ref: ref, Error: protoError(err)}
}
