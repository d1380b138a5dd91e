package models

import "time"

type EventType string

const (
	EventPush      EventType = "push"
	EventPull      EventType = "pull"
	EventConflict  EventType = "conflict"
	EventUpload    EventType = "upload"
	EventDownload  EventType = "download"
	EventDelete    EventType = "delete"
	EventMigration EventType = "migration"
	EventError     EventType = "error"
)

const (
	EntityDocument   = "document"
	EntityAttachment = "attachment"
)

// SyncEvent is one line of the local sync history.
type SyncEvent struct {
	ID         string
	Type       EventType
	EntityType string
	EntityID   string
	SyncID     string
	Message    string
	Timestamp  time.Time
}
