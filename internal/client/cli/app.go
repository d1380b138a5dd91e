package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/docsync/internal/client/blob"
	"github.com/dmitrijs2005/docsync/internal/client/client"
	"github.com/dmitrijs2005/docsync/internal/client/config"
	"github.com/dmitrijs2005/docsync/internal/client/connectivity"
	"github.com/dmitrijs2005/docsync/internal/client/docsync"
	"github.com/dmitrijs2005/docsync/internal/client/filesync"
	"github.com/dmitrijs2005/docsync/internal/client/identity"
	"github.com/dmitrijs2005/docsync/internal/client/migration"
	"github.com/dmitrijs2005/docsync/internal/client/repositories"
	"github.com/dmitrijs2005/docsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/docsync/internal/client/retry"
	"github.com/dmitrijs2005/docsync/internal/client/session"
	"github.com/dmitrijs2005/docsync/internal/client/storagepath"
	"github.com/dmitrijs2005/docsync/internal/client/syncstate"
	"github.com/dmitrijs2005/docsync/internal/logging"
)

type Mode string

const (
	ModeLocal  Mode = "local"
	ModeOnline Mode = "online"
)

// Authenticator is the account side of a backend. *client.GRPCClient and
// *client.LocalAuth implement it.
type Authenticator interface {
	identity.Provider
	Register(ctx context.Context, userName, password string) (string, error)
	Login(ctx context.Context, userName, password string) error
	Logout()
	Ping(ctx context.Context) error
}

// App owns every component of the client. The sync engines are bound to a
// user and exist only between login and logout.
type App struct {
	config *config.Config
	logger logging.Logger
	reader *bufio.Reader
	out    io.Writer
	Mode   Mode

	db       *sql.DB
	meta     metadata.Repository
	state    *syncstate.Manager
	auth     Authenticator
	pinger   connectivity.Pinger
	resolver *identity.Resolver
	retry    *retry.Manager
	paths    *storagepath.Generator
	files    *filesync.Engine
	docsFor  func(stableID string) client.DocumentStore
	closers  []func() error

	userName string
	engine   *docsync.Engine
	migrator *migration.Manager
	session  *session.Coordinator
}

// NewApp opens the local database and builds the backends selected by c.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger, in io.Reader, out io.Writer) (*App, error) {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	db, err := client.InitDatabase(ctx, c.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	a := &App{
		config:  c,
		logger:  logger,
		reader:  bufio.NewReader(in),
		out:     out,
		db:      db,
		meta:    metadata.NewSQLiteRepository(db),
		state:   syncstate.NewManager(db, repositories.NewSQLiteManager(), logger),
		paths:   storagepath.New(c.StoragePrefix),
		closers: []func() error{db.Close},
	}

	store, err := a.initBackends(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.resolver = identity.NewResolver(a.auth, logger)
	a.retry = retry.NewManager(retryConfig(c.Retry), logger, retry.WithRefresher(a.resolver))

	a.files, err = filesync.New(filesync.Config{
		MaxFileSize:       c.Transfer.MaxFileSize,
		ChunkThreshold:    c.Transfer.ChunkSize,
		ChunkSize:         c.Transfer.ChunkSize,
		MaxConcurrent:     c.Transfer.MaxConcurrent,
		RequestsPerSecond: c.Transfer.RequestsPerSecond,
		CacheDir:          c.CacheDir(),
	}, store, a.paths, a.resolver, a.meta, a.retry, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// initBackends selects the remote side: the gRPC server and S3, or the
// in-process stores of local mode.
func (a *App) initBackends(ctx context.Context) (blob.ObjectStore, error) {
	c := a.config
	if c.Offline {
		backend := client.NewMemoryBackend()
		a.auth = client.NewLocalAuth(a.meta)
		a.docsFor = func(stableID string) client.DocumentStore { return backend.ForOwner(stableID) }
		a.Mode = ModeLocal
		return blob.NewMemoryStore(), nil
	}

	gc, err := client.NewGRPCClient(c.ServerEndpointAddr, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, gc.Close)

	s3, err := blob.NewS3Store(ctx, blob.S3Config{
		Region:       c.S3.Region,
		AccessKey:    c.S3.AccessKey,
		SecretKey:    c.S3.SecretKey,
		Bucket:       c.S3.Bucket,
		BaseEndpoint: c.S3.BaseEndpoint,
		UsePathStyle: c.S3.UsePathStyle,
	})
	if err != nil {
		return nil, err
	}

	a.auth = gc
	a.pinger = gc
	a.docsFor = func(string) client.DocumentStore { return gc }
	a.Mode = ModeOnline
	return blob.NewBreakerStore(s3, blob.DefaultBreakerConfig(), a.logger), nil
}

func retryConfig(r config.Retry) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = r.MaxAttempts
	rc.BaseDelay = r.BaseDelay
	rc.MaxDelay = r.MaxDelay
	rc.AttemptTimeout = r.AttemptTimeout
	return rc
}

var errForeignStore = errors.New("local data belongs to another account; use a separate data dir")

// startSession builds the user-bound engines and starts background sync.
func (a *App) startSession(ctx context.Context) error {
	id, err := a.resolver.CurrentIdentity(ctx)
	if err != nil {
		return err
	}
	owner, err := a.meta.Get(ctx, metadata.KeyStableID)
	if err != nil {
		return err
	}
	if owner != nil && string(owner) != id.StableID {
		return errForeignStore
	}

	policy, err := docsync.ParsePolicy(a.config.ConflictPolicy)
	if err != nil {
		return err
	}

	docs := a.docsFor(id.StableID)
	a.migrator = migration.NewManager(a.state, a.meta, a.files, a.paths, a.resolver, a.logger)
	a.engine = docsync.New(docsync.Config{BatchSize: a.config.BatchSize, Policy: policy},
		a.state, docs, a.files, a.paths, a.resolver, a.retry, a.logger, docsync.WithFallback(a.migrator))
	a.session = session.New(session.Config{
		Interval:     a.config.SyncInterval,
		PingInterval: a.config.OnlineCheckInterval,
	}, session.Deps{
		Syncer:   a.engine,
		Migrator: a.migrator,
		State:    a.state,
		Identity: a.resolver,
		Meta:     a.meta,
		Feed:     docs,
		Pinger:   a.pinger,
	}, a.logger)
	return a.session.Start(ctx)
}

// endSession stops background sync and drops the user-bound engines.
func (a *App) endSession(ctx context.Context) error {
	var err error
	if a.session != nil {
		if err = a.session.SignOut(ctx); errors.Is(err, session.ErrNotRunning) {
			err = nil
		}
	}
	a.session, a.engine, a.migrator = nil, nil, nil
	a.auth.Logout()
	a.resolver.Invalidate()
	a.userName = ""
	return err
}

func (a *App) isLoggedIn() bool {
	return a.session != nil && a.session.Running()
}

// Run starts the REPL and blocks until the user exits or input ends.
func (a *App) Run(ctx context.Context) {
	defer func() { _ = a.Close() }()
	fmt.Fprintf(a.out, "Welcome to docsync (%s mode, type 'help' for commands)\n", a.Mode)
	runREPL(ctx, a, a.status, a.reader, a.out)
}

// Close ends the session and releases the database and connections.
func (a *App) Close() error {
	var errs []error
	if a.session != nil {
		errs = append(errs, a.endSession(context.Background()))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) status() string {
	switch {
	case a.session != nil && a.session.Expired():
		return a.userName + " expired"
	case a.isLoggedIn() && a.session.Gate().Online():
		return a.userName + " " + string(a.Mode)
	case a.isLoggedIn():
		return a.userName + " offline"
	default:
		return "not logged in"
	}
}
