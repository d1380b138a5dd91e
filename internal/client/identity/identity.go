// Package identity resolves the stable identifier of the signed-in user and
// keeps their short-lived credentials fresh.
//
// The stable id is issued by the identity provider and never changes for a
// user; it is the only identifier allowed in storage paths. The display name
// is informational and may change.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/logging"
	"golang.org/x/sync/singleflight"
)

// DefaultSkew is how close to expiry credentials may get before they are
// refreshed on access.
const DefaultSkew = 30 * time.Second

type Identity struct {
	StableID              string
	DisplayName           string
	CredentialsValidUntil time.Time
}

// Credentials is an identity plus the bearer token proving it.
type Credentials struct {
	Identity
	AccessToken string
}

// Provider is the identity service. CurrentIdentity returns
// common.ErrNotAuthenticated when there is no session.
type Provider interface {
	CurrentIdentity(ctx context.Context) (Credentials, error)
	RefreshCredentials(ctx context.Context, force bool) (Credentials, error)
	SessionExpired() <-chan struct{}
}

type Option func(*Resolver)

func WithSkew(d time.Duration) Option {
	return func(r *Resolver) { r.skew = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// Resolver caches the provider's credentials and refreshes them shortly
// before expiry. Concurrent refreshes are coalesced.
type Resolver struct {
	provider Provider
	logger   logging.Logger
	skew     time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cached *Credentials
	group  singleflight.Group
}

func NewResolver(p Provider, logger logging.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		provider: p,
		logger:   logger.With("module", "identity"),
		skew:     DefaultSkew,
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// CurrentIdentity returns the signed-in identity, refreshing credentials
// that are about to expire.
func (r *Resolver) CurrentIdentity(ctx context.Context) (Identity, error) {
	c, err := r.credentials(ctx)
	if err != nil {
		return Identity{}, err
	}
	return c.Identity, nil
}

// StableID is a shorthand for CurrentIdentity(ctx).StableID.
func (r *Resolver) StableID(ctx context.Context) (string, error) {
	id, err := r.CurrentIdentity(ctx)
	if err != nil {
		return "", err
	}
	return id.StableID, nil
}

// AccessToken returns a token valid for at least the configured skew.
func (r *Resolver) AccessToken(ctx context.Context) (string, error) {
	c, err := r.credentials(ctx)
	if err != nil {
		return "", err
	}
	return c.AccessToken, nil
}

// Refresh forces a credential refresh.
func (r *Resolver) Refresh(ctx context.Context) error {
	_, err := r.refresh(ctx, true)
	return err
}

// Invalidate drops cached credentials.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

func (r *Resolver) SessionExpired() <-chan struct{} {
	return r.provider.SessionExpired()
}

func (r *Resolver) credentials(ctx context.Context) (Credentials, error) {
	r.mu.Lock()
	cached := r.cached
	r.mu.Unlock()

	if cached == nil {
		c, err := r.provider.CurrentIdentity(ctx)
		if err != nil {
			return Credentials{}, err
		}
		if err := check(c); err != nil {
			return Credentials{}, err
		}
		r.store(c)
		cached = &c
	}

	if r.expiring(cached) {
		return r.refresh(ctx, false)
	}
	return *cached, nil
}

func (r *Resolver) expiring(c *Credentials) bool {
	if c.CredentialsValidUntil.IsZero() {
		return false
	}
	return !r.now().Add(r.skew).Before(c.CredentialsValidUntil)
}

func (r *Resolver) refresh(ctx context.Context, force bool) (Credentials, error) {
	v, err, _ := r.group.Do("refresh", func() (any, error) {
		c, err := r.provider.RefreshCredentials(ctx, force)
		if err != nil {
			if errors.Is(err, common.ErrNotAuthenticated) {
				r.Invalidate()
			}
			return Credentials{}, fmt.Errorf("refresh credentials: %w", err)
		}
		if err := check(c); err != nil {
			return Credentials{}, err
		}
		r.store(c)
		r.logger.Debug(ctx, "credentials refreshed", "valid_until", c.CredentialsValidUntil)
		return c, nil
	})
	if err != nil {
		return Credentials{}, err
	}
	return v.(Credentials), nil
}

func (r *Resolver) store(c Credentials) {
	r.mu.Lock()
	r.cached = &c
	r.mu.Unlock()
}

func check(c Credentials) error {
	if c.StableID == "" {
		return fmt.Errorf("provider returned empty stable id: %w", common.ErrNotAuthenticated)
	}
	return nil
}
