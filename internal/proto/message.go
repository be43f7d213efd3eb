package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client. Ref is echoed
// back on the ack or error that answers it.
type Inbound struct {
	Type string          `json:"type"`
	Ref  string          `json:"ref,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	ProtocolVersion = 1

	InboundTypeOpenDirectory = "open_directory"
	InboundTypeOpenChatroom  = "open_chatroom"
	InboundTypeClose         = "close"
	InboundTypeSend          = "send"
	InboundTypeSignOut       = "sign_out"

	OutboundTypeSnapshot = "snapshot"
	OutboundTypeSubError = "sub_error"
	OutboundTypeClosed   = "closed"
	OutboundTypeAck      = "ack"
	OutboundTypeError    = "error"
	OutboundTypeSession  = "session"

	KindDirectory = "directory"
	KindChatroom  = "chatroom"
)

// OpenChatroomData opens a chatroom either by peer or by chatroom id.
type OpenChatroomData struct {
	Peer       string `json:"peer,omitempty"`
	ChatroomID string `json:"chatroom_id,omitempty"`
}

// CloseData closes a subscription opened on this connection.
type CloseData struct {
	Sub string `json:"sub"`
}

// SendData appends a message to a chatroom.
type SendData struct {
	ChatroomID string `json:"chatroom_id"`
	Text       string `json:"text"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Ref   string `json:"ref,omitempty"`
	Sub   string `json:"sub,omitempty"`
	Kind  string `json:"kind,omitempty"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// ChatroomSnapshot is the data of a chatroom snapshot: the full log.
type ChatroomSnapshot struct {
	ChatroomID string         `json:"chatroom_id"`
	Messages   []EventMessage `json:"messages"`
}

// EventMessage is one message inside a chatroom snapshot.
type EventMessage struct {
	ID          string `json:"id"`
	ChatroomID  string `json:"chatroom_id"`
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
	TS          int64  `json:"ts"` // unix milliseconds
}

// DirectoryEntry is one user in a directory snapshot.
type DirectoryEntry struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
	Verified    bool   `json:"verified"`
}

// SessionData reports the connection's session after every change.
type SessionData struct {
	SignedIn      bool   `json:"signed_in"`
	UID           string `json:"uid,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
