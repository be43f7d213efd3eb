package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/haven/internal/core"
	havenlog "github.com/vovakirdan/haven/internal/log"
	"github.com/vovakirdan/haven/internal/store"
)

// ErrProviderClosed is returned by SignIn and Restore after Close.
var ErrProviderClosed = errors.New("identity provider closed")

// Provider is the identity source of one client. It holds at most one signed-in
// account and re-emits the identity whenever that account's profile changes.
type Provider struct {
	svc *Service
	log *zerolog.Logger

	// emitMu keeps events in the order their state changes happened.
	emitMu sync.Mutex

	mu       sync.Mutex
	current  *core.Identity
	gen      uint64
	stop     store.Unsubscribe
	watchers map[int]func(core.AuthEvent)
	nextID   int
	closed   bool
}

// NewProvider creates a signed-out provider.
func NewProvider(svc *Service, logger *zerolog.Logger) *Provider {
	return &Provider{
		svc:      svc,
		log:      havenlog.OrNop(logger),
		watchers: make(map[int]func(core.AuthEvent)),
	}
}

// WatchIdentity calls fn with the current identity and again on every change.
func (p *Provider) WatchIdentity(fn func(core.AuthEvent)) func() {
	p.emitMu.Lock()
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.watchers[id] = fn
	current := copyIdentity(p.current)
	p.mu.Unlock()
	fn(core.AuthEvent{Identity: current})
	p.emitMu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.watchers, id)
		p.mu.Unlock()
	}
}

// Current returns the signed-in identity, if any.
func (p *Provider) Current() (core.Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return core.Identity{}, false
	}
	return *p.current, true
}

// SignIn checks credentials, switches to the account and returns a session token.
func (p *Provider) SignIn(ctx context.Context, email, password string) (string, error) {
	token, acc, err := p.svc.Login(ctx, email, password)
	if err != nil {
		return "", err
	}
	if err := p.use(acc); err != nil {
		return "", err
	}
	return token, nil
}

// Restore signs in with a previously issued session token.
func (p *Provider) Restore(ctx context.Context, token string) error {
	claims, err := p.svc.ValidateToken(token)
	if err != nil {
		return err
	}
	acc, err := p.svc.Accounts().GetAccount(ctx, claims.UID)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	return p.use(acc)
}

// SignOut ends the session and emits a signed-out event.
func (p *Provider) SignOut(_ context.Context) error {
	p.mu.Lock()
	signedIn := p.current != nil
	p.mu.Unlock()

	p.switchTo(nil)
	if signedIn {
		p.log.Debug().Msg("provider signed out")
	}
	return nil
}

// Close signs out silently and refuses further sign-ins.
func (p *Provider) Close() {
	p.mu.Lock()
	p.closed = true
	p.gen++
	stop := p.stop
	p.stop = nil
	p.current = nil
	p.watchers = make(map[int]func(core.AuthEvent))
	p.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (p *Provider) use(acc *store.Account) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrProviderClosed
	}

	p.switchTo(acc)
	p.log.Debug().Str("uid", acc.UID).Msg("provider signed in")
	return nil
}

// switchTo replaces the signed-in account (nil signs out) and emits the result.
func (p *Provider) switchTo(acc *store.Account) {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	stop := p.stop
	p.stop = nil
	p.mu.Unlock()

	// Waits for an in-flight account callback, so it runs without locks held.
	if stop != nil {
		stop()
	}

	var next *core.Identity
	if acc != nil {
		next = identityOf(acc)
	}
	if !p.publish(gen, next) {
		return
	}
	if acc == nil {
		return
	}

	uid := acc.UID
	unwatch := p.svc.Accounts().WatchAccounts(func(accounts []*store.Account, err error) {
		if err != nil {
			p.log.Warn().Err(err).Str("uid", uid).Msg("account watch failed")
			return
		}
		for _, a := range accounts {
			if a.UID == uid {
				p.publish(gen, identityOf(a))
				return
			}
		}
	})

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		unwatch()
		return
	}
	p.stop = unwatch
	p.mu.Unlock()
}

// publish stores next and notifies watchers if gen is still current and the
// identity actually changed.
func (p *Provider) publish(gen uint64, next *core.Identity) bool {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return false
	}
	if sameIdentity(p.current, next) {
		p.mu.Unlock()
		return true
	}
	p.current = next
	watchers := make([]func(core.AuthEvent), 0, len(p.watchers))
	for _, fn := range p.watchers {
		watchers = append(watchers, fn)
	}
	p.mu.Unlock()

	for _, fn := range watchers {
		fn(core.AuthEvent{Identity: copyIdentity(next)})
	}
	return true
}

func identityOf(acc *store.Account) *core.Identity {
	return &core.Identity{
		ParticipantID: core.ParticipantID(acc.UID),
		DisplayName:   acc.DisplayName,
		Email:         acc.Email,
		EmailVerified: acc.EmailVerified,
	}
}

func copyIdentity(id *core.Identity) *core.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func sameIdentity(a, b *core.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
