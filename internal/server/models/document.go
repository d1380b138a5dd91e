package models

import "time"

type Metadata struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Attachment references an object the client already put in the blob
// store. The server never reads the object itself.
type Attachment struct {
	FileName        string    `json:"file_name"`
	RemoteKey       string    `json:"remote_key"`
	FileSize        int64     `json:"file_size"`
	Checksum        string    `json:"checksum,omitempty"`
	ContentEncoding string    `json:"content_encoding,omitempty"`
	AddedAt         time.Time `json:"added_at"`
}

// Document is one row of the documents table. Metadata and Attachments
// are stored as JSONB.
type Document struct {
	OwnerID     string
	SyncID      string
	Title       string
	Category    string
	Notes       string
	Metadata    []Metadata
	Attachments []Attachment
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Deleted     bool
	DeletedAt   *time.Time
}

// ChangeEvent is published after every successful write to a document.
type ChangeEvent struct {
	OwnerID string    `json:"owner_id"`
	SyncID  string    `json:"sync_id"`
	Version int64     `json:"version"`
	Deleted bool      `json:"deleted,omitempty"`
	At      time.Time `json:"at"`
}
