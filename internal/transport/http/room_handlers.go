package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/haven/internal/core"
	"github.com/vovakirdan/haven/internal/store"
)

// RoomHandlers provides HTTP handlers for one-to-one chatrooms.
type RoomHandlers struct {
	store store.MessageStore
	log   *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(st store.MessageStore, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		store: st,
		log:   logger,
	}
}

// ChatroomResponse names the chatroom shared with a peer.
type ChatroomResponse struct {
	ChatroomID string `json:"chatroom_id"`
	Peer       string `json:"peer"`
}

// GetChatroom resolves the chatroom between the caller and a peer.
// GET /api/chatrooms/:peer
func (h *RoomHandlers) GetChatroom(c *gin.Context) {
	uid, ok := currentUID(c, h.log)
	if !ok {
		return
	}

	id, ok := h.resolve(c, uid)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, ChatroomResponse{ChatroomID: string(id), Peer: c.Param("peer")})
}

// ListMessages returns the current log of the chatroom shared with a peer.
// GET /api/chatrooms/:peer/messages
func (h *RoomHandlers) ListMessages(c *gin.Context) {
	uid, ok := currentUID(c, h.log)
	if !ok {
		return
	}

	id, ok := h.resolve(c, uid)
	if !ok {
		return
	}

	docs, err := h.store.ListMessages(c.Request.Context(), string(id))
	if err != nil {
		h.log.Error().Err(err).Str("chatroom_id", string(id)).Msg("failed to list messages")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: core.ErrUnreachable.Error()})
		return
	}

	c.JSON(http.StatusOK, chatroomSnapshot(id, core.MessagesFromDocs(docs)))
}

func (h *RoomHandlers) resolve(c *gin.Context, uid string) (core.ChatroomID, bool) {
	id, err := core.ResolveChatroomID(core.ParticipantID(uid), core.ParticipantID(c.Param("peer")))
	if err != nil {
		if errors.Is(err, core.ErrInvalidParticipant) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return "", false
		}
		h.log.Error().Err(err).Msg("failed to resolve chatroom")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return "", false
	}
	return id, true
}
