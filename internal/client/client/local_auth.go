package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/docsync/internal/client/identity"
	"github.com/dmitrijs2005/docsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/docsync/internal/common"
)

const localAccountPrefix = "local_account:"

// localNamespace seeds the stable ids of offline accounts, so a user keeps
// the same id across runs.
var localNamespace = uuid.MustParse("5b1f3c52-8c0e-4d8e-9d43-0f9a3f0e7a11")

var ErrInvalidCredentials = fmt.Errorf("invalid username or password: %w", common.ErrNotAuthenticated)

// LocalAuth is the identity provider of offline mode. Accounts are bcrypt
// hashes kept in the local metadata store; credentials never expire.
type LocalAuth struct {
	meta metadata.Repository

	mu      sync.RWMutex
	creds   identity.Credentials
	expired chan struct{}
}

var _ identity.Provider = (*LocalAuth)(nil)

func NewLocalAuth(meta metadata.Repository) *LocalAuth {
	return &LocalAuth{meta: meta, expired: make(chan struct{})}
}

func localStableID(userName string) string {
	return uuid.NewSHA1(localNamespace, []byte(userName)).String()
}

func (a *LocalAuth) Register(ctx context.Context, userName, password string) (string, error) {
	if userName == "" || password == "" {
		return "", common.NewValidationError(errors.New("username and password are required"))
	}
	existing, err := a.meta.Get(ctx, localAccountPrefix+userName)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", fmt.Errorf("user %s: %w", userName, common.ErrAlreadyExists)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	if err := a.meta.Set(ctx, localAccountPrefix+userName, hash); err != nil {
		return "", err
	}
	return localStableID(userName), nil
}

func (a *LocalAuth) Login(ctx context.Context, userName, password string) error {
	hash, err := a.meta.Get(ctx, localAccountPrefix+userName)
	if err != nil {
		return err
	}
	if hash == nil || bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	a.mu.Lock()
	a.creds = identity.Credentials{
		Identity: identity.Identity{
			StableID:              localStableID(userName),
			DisplayName:           userName,
			CredentialsValidUntil: time.Now().Add(100 * 365 * 24 * time.Hour),
		},
		AccessToken: "local",
	}
	a.mu.Unlock()
	return nil
}

func (a *LocalAuth) Logout() {
	a.mu.Lock()
	a.creds = identity.Credentials{}
	a.mu.Unlock()
}

// Ping always succeeds: the in-process stores are always reachable.
func (a *LocalAuth) Ping(context.Context) error { return nil }

func (a *LocalAuth) CurrentIdentity(context.Context) (identity.Credentials, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.creds.AccessToken == "" {
		return identity.Credentials{}, ErrNotLoggedIn
	}
	return a.creds, nil
}

func (a *LocalAuth) RefreshCredentials(ctx context.Context, _ bool) (identity.Credentials, error) {
	return a.CurrentIdentity(ctx)
}

func (a *LocalAuth) SessionExpired() <-chan struct{} { return a.expired }
