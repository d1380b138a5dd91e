package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu         sync.Mutex
	current    Credentials
	currentErr error
	refreshed  Credentials
	refreshErr error
	refreshes  int
	forced     []bool
	expired    chan struct{}
}

func (f *fakeProvider) CurrentIdentity(context.Context) (Credentials, error) {
	return f.current, f.currentErr
}

func (f *fakeProvider) RefreshCredentials(_ context.Context, force bool) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.forced = append(f.forced, force)
	return f.refreshed, f.refreshErr
}

func (f *fakeProvider) SessionExpired() <-chan struct{} { return f.expired }

func TestCurrentIdentity_NotAuthenticated(t *testing.T) {
	r := NewResolver(&fakeProvider{currentErr: common.ErrNotAuthenticated}, logging.Nop())
	_, err := r.CurrentIdentity(context.Background())
	require.ErrorIs(t, err, common.ErrNotAuthenticated)
}

func TestCurrentIdentity_EmptyStableID(t *testing.T) {
	r := NewResolver(&fakeProvider{}, logging.Nop())
	_, err := r.CurrentIdentity(context.Background())
	require.ErrorIs(t, err, common.ErrNotAuthenticated)
}

func TestCurrentIdentity_CachedWhileValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &fakeProvider{current: Credentials{
		Identity:    Identity{StableID: "u1", DisplayName: "Ann", CredentialsValidUntil: now.Add(time.Hour)},
		AccessToken: "t1",
	}}
	r := NewResolver(p, logging.Nop(), WithClock(func() time.Time { return now }))

	id, err := r.CurrentIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", id.StableID)

	tok, err := r.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t1", tok)
	assert.Zero(t, p.refreshes)
}

func TestAccessToken_RefreshesInsideSkew(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &fakeProvider{
		current: Credentials{
			Identity:    Identity{StableID: "u1", CredentialsValidUntil: now.Add(10 * time.Second)},
			AccessToken: "old",
		},
		refreshed: Credentials{
			Identity:    Identity{StableID: "u1", CredentialsValidUntil: now.Add(time.Hour)},
			AccessToken: "new",
		},
	}
	r := NewResolver(p, logging.Nop(), WithClock(func() time.Time { return now }))

	tok, err := r.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", tok)
	assert.Equal(t, []bool{false}, p.forced)

	tok, err = r.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", tok)
	assert.Equal(t, 1, p.refreshes)
}

func TestRefresh_ForcedAndFailing(t *testing.T) {
	p := &fakeProvider{
		current:    Credentials{Identity: Identity{StableID: "u1"}, AccessToken: "t"},
		refreshErr: common.ErrNotAuthenticated,
	}
	r := NewResolver(p, logging.Nop())

	_, err := r.CurrentIdentity(context.Background())
	require.NoError(t, err)

	err = r.Refresh(context.Background())
	require.ErrorIs(t, err, common.ErrNotAuthenticated)
	assert.Equal(t, []bool{true}, p.forced)

	r.mu.Lock()
	assert.Nil(t, r.cached)
	r.mu.Unlock()
}

func TestInvalidate_ReloadsFromProvider(t *testing.T) {
	p := &fakeProvider{current: Credentials{Identity: Identity{StableID: "u1"}}}
	r := NewResolver(p, logging.Nop())

	_, err := r.CurrentIdentity(context.Background())
	require.NoError(t, err)

	r.Invalidate()
	p.current = Credentials{}
	p.currentErr = errors.New("signed out")

	_, err = r.CurrentIdentity(context.Background())
	require.Error(t, err)
}

func TestFromAccessToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
		UserID:           "user-42",
		Username:         "ann",
	})
	s, err := tok.SignedString([]byte("whatever"))
	require.NoError(t, err)

	c, err := FromAccessToken(s)
	require.NoError(t, err)
	assert.Equal(t, "user-42", c.StableID)
	assert.Equal(t, "ann", c.DisplayName)
	assert.True(t, exp.Equal(c.CredentialsValidUntil))
	assert.Equal(t, s, c.AccessToken)

	_, err = FromAccessToken("garbage")
	require.ErrorIs(t, err, common.ErrInvalidToken)
}
