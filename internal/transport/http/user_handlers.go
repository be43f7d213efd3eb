package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/haven/internal/core"
	"github.com/vovakirdan/haven/internal/store"
)

// UserHandlers provides HTTP handlers for user listings.
type UserHandlers struct {
	store store.AccountStore
	log   *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(st store.AccountStore, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		store: st,
		log:   logger,
	}
}

// Directory returns a one-shot copy of the directory as the caller would see it.
// GET /api/directory
func (h *UserHandlers) Directory(c *gin.Context) {
	uid, ok := currentUID(c, h.log)
	if !ok {
		return
	}

	accounts, err := h.store.ListAccounts(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list accounts")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: core.ErrUnreachable.Error()})
		return
	}

	entries := core.VisibleEntries(accounts, core.ParticipantID(uid))
	c.JSON(http.StatusOK, directoryEntries(entries))
}
