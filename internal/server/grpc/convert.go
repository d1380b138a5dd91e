package grpc

import (
	"github.com/dmitrijs2005/docsync/internal/rpc"
	"github.com/dmitrijs2005/docsync/internal/server/models"
)

func toRPC(d *models.Document) *rpc.Document {
	if d == nil {
		return nil
	}
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

// fromRPC never sets OwnerID; the owner always comes from the access token.
func fromRPC(d *rpc.Document) *models.Document {
	if d == nil {
		return nil
	}
	out := &models.Document{
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
		out.Metadata = append(out.Metadata, models.Metadata{Name: m.Name, Value: m.Value})
	}
	for _, a := range d.Attachments {
		out.Attachments = append(out.Attachments, models.Attachment{
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
