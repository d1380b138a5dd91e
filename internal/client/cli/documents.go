package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/common"
)

const timeLayout = "2006-01-02 15:04:05"

// changed nudges the session after a local write.
func (a *App) changed(ctx context.Context, syncID string) {
	a.session.RequestSync(ctx, "local change "+syncID)
}

func (a *App) Add(ctx context.Context, args []string) error {
	title := strings.Join(args, " ")
	if title == "" {
		var err error
		if title, err = a.ask("Title"); err != nil {
			return err
		}
	}
	category, err := a.ask("Category (optional)")
	if err != nil {
		return err
	}
	notes := a.askText("Notes (optional)")
	md, err := a.askMetadata()
	if err != nil {
		return err
	}

	d := models.NewDocument(title, category, notes, time.Now().UTC())
	d.Metadata = md
	if err := a.state.SaveLocal(ctx, d); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added %s\n", d.SyncID)
	a.changed(ctx, d.SyncID)
	return nil
}

// Edit prompts for each field; an empty answer keeps the current value.
func (a *App) Edit(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	d, err := a.state.Document(ctx, args[0])
	if err != nil {
		return err
	}
	if d.Deleted {
		return fmt.Errorf("document %s is deleted: %w", d.SyncID, common.ErrNotFound)
	}

	title, err := a.ask(fmt.Sprintf("Title [%s]", d.Title))
	if err != nil {
		return err
	}
	category, err := a.ask(fmt.Sprintf("Category [%s]", d.Category))
	if err != nil {
		return err
	}
	notes := a.askText("Notes, blank keeps the current text")
	if title != "" {
		d.Title = title
	}
	if category != "" {
		d.Category = category
	}
	if notes != "" {
		d.Notes = notes
	}
	if err := a.state.SaveLocal(ctx, d); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %s\n", d.SyncID)
	a.changed(ctx, d.SyncID)
	return nil
}

func (a *App) Attach(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	path, err := filepath.Abs(args[1])
	if err != nil {
		return err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return common.NewValidationError(fmt.Errorf("%s is a directory", path))
	}
	att := &models.FileAttachment{
		SyncID:    args[0],
		FileName:  filepath.Base(path),
		LocalPath: path,
		FileSize:  fi.Size(),
	}
	id, err := a.state.AddAttachment(ctx, att)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Attached %s as #%d\n", att.FileName, id)
	a.changed(ctx, args[0])
	return nil
}

func (a *App) Detach(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	if err := a.engine.RemoveAttachment(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Removed %s\n", args[1])
	a.changed(ctx, args[0])
	return nil
}

func (a *App) List(ctx context.Context, _ []string) error {
	docs, err := a.state.Documents(ctx, false)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(a.out, "No documents")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYNC ID\tTITLE\tCATEGORY\tSTATE\tVERSION\tFILES")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n", d.SyncID, d.Title, d.Category, d.SyncState, d.Version, len(d.Attachments))
	}
	return tw.Flush()
}

func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	d, err := a.state.Document(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Sync ID:  %s\n", d.SyncID)
	fmt.Fprintf(a.out, "Title:    %s\n", d.Title)
	if d.Category != "" {
		fmt.Fprintf(a.out, "Category: %s\n", d.Category)
	}
	fmt.Fprintf(a.out, "State:    %s (version %d)\n", d.SyncState, d.Version)
	if d.LastError != "" {
		fmt.Fprintf(a.out, "Error:    %s (attempts %d)\n", d.LastError, d.Attempts)
	}
	fmt.Fprintf(a.out, "Updated:  %s\n", d.UpdatedAt.Local().Format(timeLayout))
	if d.Deleted {
		fmt.Fprintln(a.out, "Deleted:  yes")
	}
	for _, m := range d.Metadata {
		fmt.Fprintf(a.out, "  %s = %s\n", m.Name, m.Value)
	}
	if d.Notes != "" {
		fmt.Fprintf(a.out, "Notes:\n%s\n", d.Notes)
	}

	if len(d.Attachments) > 0 {
		fmt.Fprintln(a.out, "Attachments:")
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		for _, f := range d.Attachments {
			fmt.Fprintf(tw, "  #%d\t%s\t%d bytes\t%s\t%s\n", f.ID, f.FileName, f.FileSize, f.SyncState, f.RemoteKey)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	c, err := a.state.OpenConflict(ctx, d.SyncID)
	switch {
	case errors.Is(err, common.ErrNotFound):
	case err != nil:
		return err
	default:
		fmt.Fprintf(a.out, "Conflict %s: remote version %d (%q) since %s\n",
			c.ID, c.Remote.Version, c.Remote.Title, c.DetectedAt.Local().Format(timeLayout))
	}
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if err := a.engine.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", args[0])
	a.changed(ctx, args[0])
	return nil
}
