package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeyStableID       = "stable_id"
	KeyDisplayName    = "display_name"
	KeyLastPull       = "last_pull"
	KeyMigrationDone  = "migration_done"
	KeyMigrationState = "migration_state"
)

// Repository is the client's key/value bookkeeping table. Get returns
// (nil, nil) for a missing key. Related keys share a prefix ("upload_hint:",
// "local_account:") so Keys can enumerate one family.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
