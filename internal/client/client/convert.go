package client

import (
	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/rpc"
)

// toRPC converts a local document into its wire form. Only uploaded
// attachments travel; the rest are still local.
func toRPC(d *models.Document) *rpc.Document {
	out := &rpc.Document{
		SyncID:    d.SyncID,
		Title:     d.Title,
		Category:  d.Category,
		Notes:     d.Notes,
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		Deleted:   d.Deleted,
		DeletedAt: d.DeletedAt,
	}
	for _, m := range d.Metadata {
		out.Metadata = append(out.Metadata, rpc.Metadata{Name: m.Name, Value: m.Value})
	}
	for _, a := range d.Attachments {
		if !a.Uploaded() {
			continue
		}
		out.Attachments = append(out.Attachments, rpc.Attachment{
			FileName:        a.FileName,
			RemoteKey:       a.RemoteKey,
			FileSize:        a.FileSize,
			Checksum:        a.Checksum,
			ContentEncoding: a.ContentEncoding,
			AddedAt:         a.AddedAt,
		})
	}
	return out
}

// fromRPC converts a remote document. Sync bookkeeping is left for the
// caller; RemoteExists is always true.
func fromRPC(d *rpc.Document) *models.Document {
	if d == nil {
		return nil
	}
	out := &models.Document{
		SyncID:       d.SyncID,
		Title:        d.Title,
		Category:     d.Category,
		Notes:        d.Notes,
		Version:      d.Version,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
		Deleted:      d.Deleted,
		RemoteExists: true,
	}
	if d.DeletedAt != nil {
		t := d.DeletedAt.UTC()
		out.DeletedAt = &t
	}
	for _, m := range d.Metadata {
		out.Metadata = append(out.Metadata, models.Metadata{Name: m.Name, Value: m.Value})
	}
	for _, a := range d.Attachments {
		out.Attachments = append(out.Attachments, models.FileAttachment{
			SyncID:          d.SyncID,
			FileName:        a.FileName,
			RemoteKey:       a.RemoteKey,
			FileSize:        a.FileSize,
			Checksum:        a.Checksum,
			ContentEncoding: a.ContentEncoding,
			AddedAt:         a.AddedAt.UTC(),
		})
	}
	return out
}
