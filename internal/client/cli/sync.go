package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/client/session"
)

const defaultEventCount = 20

func (a *App) Sync(ctx context.Context, _ []string) error {
	res, err := a.session.SyncNow(ctx)
	printPass(a, res)
	return err
}

func printPass(a *App, res session.PassResult) {
	if res.Migration != nil {
		printMigration(a, *res.Migration)
	}
	fmt.Fprintf(a.out, "Pushed %d, conflicts %d, failed %d\n", res.Push.Pushed, res.Push.Conflicts, res.Push.Failed)
	fmt.Fprintf(a.out, "Pulled %d, removed %d, conflicts %d, failed %d\n",
		res.Pull.Applied, res.Pull.Removed, res.Pull.Conflicts, res.Pull.Failed)
	if res.Pull.Rejected > 0 {
		fmt.Fprintf(a.out, "Rejected %d attachments with foreign keys\n", res.Pull.Rejected)
	}
	if res.Downloaded > 0 {
		fmt.Fprintf(a.out, "Downloaded %d files\n", res.Downloaded)
	}
}

func printMigration(a *App, r models.MigrationResult) {
	fmt.Fprintf(a.out, "Migration: %d files, %d migrated, %d skipped, %d failed in %s\n",
		r.TotalFiles, r.MigratedFiles, r.SkippedFiles, r.FailedFiles, r.Duration.Round(time.Millisecond))
}

func (a *App) Status(ctx context.Context, _ []string) error {
	sum, err := a.state.Summary(ctx)
	if err != nil {
		return err
	}
	gate := a.session.Gate()
	online := "offline"
	if gate.Online() {
		online = "online"
	}
	fmt.Fprintf(a.out, "User:      %s (%s mode, %s)\n", a.userName, a.Mode, online)
	fmt.Fprintf(a.out, "Documents: %d total, %d synced, %d conflicts\n", sum.Total, sum.Synced, sum.Conflicts)

	states := make([]string, 0, len(sum.Counts))
	for s := range sum.Counts {
		states = append(states, string(s))
	}
	sort.Strings(states)
	for _, s := range states {
		fmt.Fprintf(a.out, "  %-16s %d\n", s, sum.Counts[models.SyncState(s)])
	}

	if resumes, err := a.files.PendingResumes(ctx); err != nil {
		a.logger.Warn(ctx, "failed to list resumable uploads", "error", err)
	} else if len(resumes) > 0 {
		fmt.Fprintf(a.out, "Resumable: %d interrupted uploads\n", len(resumes))
	}
	if n := len(gate.Pending()); n > 0 {
		fmt.Fprintf(a.out, "Queued:    %d sync requests (%d dropped)\n", n, gate.Dropped())
	}
	if last := a.session.LastPass(); last != nil {
		fmt.Fprintf(a.out, "Last sync: %s", last.Finished.Local().Format(timeLayout))
		if last.Err != nil {
			fmt.Fprintf(a.out, " (failed: %v)", last.Err)
		}
		fmt.Fprintln(a.out)
	}
	if a.session.Expired() {
		fmt.Fprintln(a.out, "Session expired, please log in again")
	}
	return nil
}

func (a *App) Conflicts(ctx context.Context, _ []string) error {
	list, err := a.state.Conflicts(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No conflicts")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONFLICT ID\tSYNC ID\tLOCAL\tREMOTE\tDETECTED")
	for _, c := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s (v%d)\t%s (v%d)\t%s\n", c.ID, c.SyncID,
			c.Local.Title, c.Local.Version, c.Remote.Title, c.Remote.Version, c.DetectedAt.Local().Format(timeLayout))
	}
	return tw.Flush()
}

func (a *App) Resolve(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	res, err := models.ParseResolution(args[1])
	if err != nil {
		return err
	}
	if err := a.engine.ResolveConflict(ctx, args[0], res); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Resolved %s with %s\n", args[0], res)
	a.session.RequestSync(ctx, "conflict resolved")
	return nil
}

// Migrate copies attachments from legacy keys; "cleanup" deletes legacy
// objects whose documents are synced with the new keys.
func (a *App) Migrate(ctx context.Context, args []string) error {
	mode := ""
	if len(args) > 0 {
		mode = args[0]
	}
	switch mode {
	case "", "force":
		res, err := a.migrator.Migrate(ctx, mode == "force")
		printMigration(a, res)
		if err != nil {
			return err
		}
		if res.MigratedFiles > 0 {
			a.session.RequestSync(ctx, "migration")
		}
		return nil
	case "cleanup":
		n, err := a.migrator.Cleanup(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Removed %d legacy objects\n", n)
		return nil
	default:
		return errUsage
	}
}

func (a *App) Rollback(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if args[0] == "all" {
		n, err := a.migrator.RollbackAll(ctx)
		fmt.Fprintf(a.out, "Rolled back %d attachments\n", n)
		return err
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errUsage
	}
	if err := a.migrator.Rollback(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Rolled back attachment #%d\n", id)
	return nil
}

func (a *App) Events(ctx context.Context, args []string) error {
	n := defaultEventCount
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return errUsage
		}
		n = v
	}
	events, err := a.state.Events(ctx, n)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format(timeLayout), e.Type, e.SyncID, e.Message)
	}
	return tw.Flush()
}
