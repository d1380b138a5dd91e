package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/docsync/internal/client/client"
	"github.com/dmitrijs2005/docsync/internal/client/connectivity"
	"github.com/dmitrijs2005/docsync/internal/client/docsync"
	"github.com/dmitrijs2005/docsync/internal/client/identity"
	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/docsync/internal/logging"
	"github.com/dmitrijs2005/docsync/internal/metrics"
)

const (
	DefaultInterval = time.Minute
	// feedRetryDelay is the pause before resubscribing to a broken change
	// feed.
	feedRetryDelay = 5 * time.Second
	passKey        = "pass"
)

var ErrNotRunning = errors.New("session is not running")

type Syncer interface {
	PushPending(ctx context.Context) (docsync.PushReport, error)
	Pull(ctx context.Context) (docsync.PullReport, error)
	PullOne(ctx context.Context, syncID string) (docsync.PullReport, error)
	DownloadPending(ctx context.Context) (int, error)
}

type Migrator interface {
	NeedsMigration(ctx context.Context) (bool, error)
	Migrate(ctx context.Context, force bool) (models.MigrationResult, error)
}

type StateResetter interface {
	ResetInFlight(ctx context.Context) (int64, error)
}

type Identity interface {
	CurrentIdentity(ctx context.Context) (identity.Identity, error)
	Invalidate()
	SessionExpired() <-chan struct{}
}

type ChangeFeed interface {
	Subscribe(ctx context.Context) (<-chan client.ChangeEvent, error)
}

// Deps are the collaborators of a Coordinator. Feed and Pinger are
// optional: without a feed only the timer and explicit requests start
// passes, and without a pinger the server is assumed reachable.
type Deps struct {
	Syncer   Syncer
	Migrator Migrator
	State    StateResetter
	Identity Identity
	Meta     metadata.Repository
	Feed     ChangeFeed
	Pinger   connectivity.Pinger
}

type Config struct {
	Interval      time.Duration
	PingInterval  time.Duration
	QueueSize     int
	SkipMigration bool
}

// PassResult summarizes one sync pass.
type PassResult struct {
	Started    time.Time
	Finished   time.Time
	Migration  *models.MigrationResult
	Push       docsync.PushReport
	Pull       docsync.PullReport
	Downloaded int
	Err        error
}

type Coordinator struct {
	cfg    Config
	deps   Deps
	logger logging.Logger
	gate   *connectivity.Gate
	group  singleflight.Group
	now    func() time.Time

	// work is held by every full pass and targeted pull, so at most one of
	// them touches local state at a time. Only full passes are shared
	// through group.
	work sync.Mutex

	// trigger has one slot; a full slot means a pass is already requested.
	trigger chan struct{}

	mu       sync.Mutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	passes   sync.WaitGroup
	full     bool
	ids      map[string]struct{}
	migrated bool
	expired  bool
	last     *PassResult
}

func New(cfg Config, deps Deps, logger logging.Logger) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	c := &Coordinator{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("module", "session"),
		now:     func() time.Time { return time.Now().UTC() },
		trigger: make(chan struct{}, 1),
		ids:     make(map[string]struct{}),
	}
	c.gate = connectivity.NewGate(c.dispatch, cfg.QueueSize, logger)
	return c
}

func (c *Coordinator) Gate() *connectivity.Gate { return c.gate }

// Start launches the background loops for the signed-in user and requests
// an initial pass.
func (c *Coordinator) Start(ctx context.Context) error {
	id, err := c.deps.Identity.CurrentIdentity(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running, c.expired, c.migrated = true, false, false
	c.full, c.ids = false, make(map[string]struct{})
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	run := c.ctx
	c.mu.Unlock()

	c.remember(run, id)
	c.logger.Info(ctx, "session started", "stable_id", id.StableID)

	c.goTracked(func() { c.loop(run) })
	c.goTracked(func() { c.tick(run) })
	c.goTracked(func() { c.watchExpiry(run) })
	if c.deps.Feed != nil {
		c.goTracked(func() { c.follow(run) })
	}
	if c.deps.Pinger != nil {
		m := connectivity.NewMonitor(c.deps.Pinger, c.gate, c.cfg.PingInterval, c.logger)
		c.goTracked(func() { m.Run(run) })
	} else {
		c.gate.SetOnline(run, true)
	}
	c.RequestSync(run, "start")
	return nil
}

// remember caches the identity so it can be shown while offline.
func (c *Coordinator) remember(ctx context.Context, id identity.Identity) {
	if c.deps.Meta == nil {
		return
	}
	for k, v := range map[string]string{metadata.KeyStableID: id.StableID, metadata.KeyDisplayName: id.DisplayName} {
		if err := c.deps.Meta.Set(ctx, k, []byte(v)); err != nil {
			c.logger.Warn(ctx, "failed to cache identity", "key", k, "error", err)
		}
	}
}

func (c *Coordinator) goTracked(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// RequestSync asks for a full pass.
func (c *Coordinator) RequestSync(ctx context.Context, reason string) {
	c.gate.Submit(ctx, connectivity.Trigger{Reason: reason})
}

// dispatch records the request and wakes the loop without blocking.
func (c *Coordinator) dispatch(_ context.Context, t connectivity.Trigger) {
	c.mu.Lock()
	if t.SyncID == "" {
		c.full = true
	} else {
		c.ids[t.SyncID] = struct{}{}
	}
	c.mu.Unlock()
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *Coordinator) take() (full bool, ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	full = c.full
	if !full {
		for id := range c.ids {
			ids = append(ids, id)
		}
	}
	c.full, c.ids = false, make(map[string]struct{})
	return full, ids
}

func (c *Coordinator) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
		}
		full, ids := c.take()
		if full {
			if _, err := c.SyncNow(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn(ctx, "sync pass failed", "error", err)
			}
			continue
		}
		if len(ids) > 0 {
			c.pullChanged(ctx, ids)
		}
	}
}

// pullChanged applies remote changes to the given documents only. A
// SyncNow arriving meanwhile waits and then runs its own full pass.
func (c *Coordinator) pullChanged(ctx context.Context, ids []string) {
	c.work.Lock()
	defer c.work.Unlock()
	err := func() error {
		for _, id := range ids {
			if _, err := c.deps.Syncer.PullOne(ctx, id); err != nil {
				return err
			}
		}
		_, err := c.deps.Syncer.DownloadPending(ctx)
		return err
	}()
	if err != nil && ctx.Err() == nil {
		c.logger.Warn(ctx, "failed to apply remote changes", "documents", len(ids), "error", err)
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	t := time.NewTicker(c.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.RequestSync(ctx, "timer")
		}
	}
}

func (c *Coordinator) watchExpiry(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-c.deps.Identity.SessionExpired():
		c.logger.Warn(ctx, "session expired, stopping background sync")
		c.mu.Lock()
		c.expired = true
		cancel := c.cancel
		c.mu.Unlock()
		cancel()
	}
}

// follow turns remote change notifications into targeted pulls,
// resubscribing when the stream breaks.
func (c *Coordinator) follow(ctx context.Context) {
	for ctx.Err() == nil {
		events, err := c.deps.Feed.Subscribe(ctx)
		if err != nil {
			c.logger.Debug(ctx, "change feed unavailable", "error", err)
		} else {
			for e := range events {
				c.gate.Submit(ctx, connectivity.Trigger{Reason: "change", SyncID: e.SyncID, At: e.At})
			}
		}
		select {
		case <-ctx.Done():
		case <-time.After(feedRetryDelay):
		}
	}
}

// SyncNow runs a pass, or joins the one in flight, and waits for it.
func (c *Coordinator) SyncNow(ctx context.Context) (PassResult, error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return PassResult{}, ErrNotRunning
	}
	run := c.ctx
	c.mu.Unlock()

	ch := c.group.DoChan(passKey, func() (any, error) {
		if !c.trackPass() {
			return PassResult{}, ErrNotRunning
		}
		defer c.passes.Done()
		c.work.Lock()
		defer c.work.Unlock()
		res := c.pass(run)
		return res, res.Err
	})
	select {
	case <-ctx.Done():
		return PassResult{}, ctx.Err()
	case r := <-ch:
		res, _ := r.Val.(PassResult)
		return res, r.Err
	}
}

// trackPass registers a running pass with SignOut. It fails once sign-out
// has begun.
func (c *Coordinator) trackPass() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	c.passes.Add(1)
	return true
}

func (c *Coordinator) pass(ctx context.Context) PassResult {
	res := PassResult{Started: c.now()}
	defer func() {
		res.Finished = c.now()
		outcome := "ok"
		if res.Err != nil {
			outcome = "error"
		}
		metrics.SyncPasses.WithLabelValues(outcome).Inc()
		c.mu.Lock()
		last := res
		c.last = &last
		c.mu.Unlock()
	}()

	c.migrateOnce(ctx, &res)

	var err error
	if res.Push, err = c.deps.Syncer.PushPending(ctx); err != nil {
		res.Err = fmt.Errorf("push: %w", err)
		return res
	}
	if res.Pull, err = c.deps.Syncer.Pull(ctx); err != nil {
		res.Err = fmt.Errorf("pull: %w", err)
		return res
	}
	if c.deps.Meta != nil {
		if err := c.deps.Meta.Set(ctx, metadata.KeyLastPull, []byte(res.Started.Format(time.RFC3339))); err != nil {
			c.logger.Warn(ctx, "failed to record pull time", "error", err)
		}
	}
	if res.Downloaded, err = c.deps.Syncer.DownloadPending(ctx); err != nil {
		res.Err = fmt.Errorf("download: %w", err)
		return res
	}
	c.logger.Debug(ctx, "sync pass finished", "pushed", res.Push.Pushed, "applied", res.Pull.Applied,
		"downloaded", res.Downloaded, "took", res.Finished.Sub(res.Started))
	return res
}

// migrateOnce runs the key migration on the first pass of a session.
// Failed files are retried by the next session.
func (c *Coordinator) migrateOnce(ctx context.Context, res *PassResult) {
	c.mu.Lock()
	skip := c.migrated || c.cfg.SkipMigration || c.deps.Migrator == nil
	c.migrated = true
	c.mu.Unlock()
	if skip {
		return
	}
	need, err := c.deps.Migrator.NeedsMigration(ctx)
	if err != nil {
		c.logger.Warn(ctx, "failed to check for legacy keys", "error", err)
		return
	}
	if !need {
		return
	}
	m, err := c.deps.Migrator.Migrate(ctx, false)
	if err != nil {
		c.logger.Error(ctx, "migration failed", "error", err)
		return
	}
	res.Migration = &m
}

// LastPass returns the result of the most recent pass, or nil.
func (c *Coordinator) LastPass() *PassResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	r := *c.last
	return &r
}

func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && c.ctx.Err() == nil
}

// Expired reports whether the session ended because the credentials
// could not be refreshed.
func (c *Coordinator) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// SignOut cancels all background work, waits for it to stop, returns
// interrupted documents to their pending states and forgets the
// credentials.
func (c *Coordinator) SignOut(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.deps.Identity.Invalidate()
		return nil
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	c.passes.Wait()

	n, err := c.deps.State.ResetInFlight(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("failed to reset in-flight work: %w", err)
	}
	c.gate.SetOnline(ctx, false)
	c.deps.Identity.Invalidate()
	c.logger.Info(ctx, "signed out", "requeued", n)
	return nil
}
