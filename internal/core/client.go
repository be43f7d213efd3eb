package core

import (
	"github.com/rs/zerolog"

	havenlog "github.com/vovakirdan/haven/internal/log"
	"github.com/vovakirdan/haven/internal/store"
)

// Client is one running chat client: a single Session with the subscriptions
// and operations gated behind it.
type Client struct {
	ID        string
	Gate      *Gate
	Subs      *Manager
	Messages  *MessageLog
	Directory *DirectoryFeed

	log           *zerolog.Logger
	cancelSession func()
}

// NewClient wires a gate, a subscription manager, a message log and a
// directory feed over st. Signing out closes every subscription opened under
// the ended session.
func NewClient(id string, st store.Store, logger *zerolog.Logger) *Client {
	logger = havenlog.OrNop(logger)
	clientLog := logger.With().Str("client_id", id).Logger()

	gate := NewGate(&clientLog)
	subs := NewManager(&clientLog)
	c := &Client{
		ID:        id,
		Gate:      gate,
		Subs:      subs,
		Messages:  NewMessageLog(st, gate, subs, &clientLog),
		Directory: NewDirectoryFeed(st, gate, subs),
		log:       &clientLog,
	}
	c.cancelSession = gate.Subscribe(c.onSessionChange)
	return c
}

func (c *Client) onSessionChange(change SessionChange) {
	if change.SignedOut() {
		n := c.Subs.CloseSessionBound()
		c.log.Debug().Int("closed", n).Msg("closed subscriptions of ended session")
	}
	c.Subs.Refresh()
}

// Close detaches the identity source and closes every subscription.
func (c *Client) Close() {
	c.cancelSession()
	c.Gate.Detach()
	n := c.Subs.CloseAll()
	c.log.Debug().Int("closed", n).Msg("client closed")
}
