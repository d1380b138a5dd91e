package models

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

const (
	MaxTitleLength    = 200
	MaxCategoryLength = 64
	MaxNotesLength    = 64 * 1024
)

var ErrIncorrectMetadata = errors.New("metadata item must be name=value")

// Metadata is a free-form name/value pair attached to a document.
type Metadata struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MetadataFromString parses "name=value" lines.
func MetadataFromString(s []string) ([]Metadata, error) {
	data := make([]Metadata, len(s))
	for n, item := range s {
		name, value, ok := strings.Cut(item, "=")
		if !ok || strings.Contains(value, "=") {
			return nil, ErrIncorrectMetadata
		}
		data[n] = Metadata{Name: name, Value: value}
	}
	return data, nil
}

// Document is a structured personal record. SyncID never changes after
// creation; Version is the last version acknowledged by the remote store.
type Document struct {
	SyncID    string
	Title     string
	Category  string
	Notes     string
	Metadata  []Metadata
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Deleted   bool
	DeletedAt *time.Time

	SyncState    SyncState
	RemoteExists bool
	LastError    string
	Attempts     int

	Attachments []FileAttachment
}

// NewDocument returns a local, not yet pushed document.
func NewDocument(title, category, notes string, now time.Time) *Document {
	return &Document{
		SyncID:    uuid.NewString(),
		Title:     title,
		Category:  category,
		Notes:     notes,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		SyncState: StatePendingUpload,
	}
}

func (d *Document) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.SyncID, validation.Required),
		validation.Field(&d.Title, validation.Required, validation.Length(1, MaxTitleLength)),
		validation.Field(&d.Category, validation.Length(0, MaxCategoryLength)),
		validation.Field(&d.Notes, validation.Length(0, MaxNotesLength)),
		validation.Field(&d.Version, validation.Min(int64(1))),
	)
}

// MarkDeleted turns d into a tombstone waiting to be pushed.
func (d *Document) MarkDeleted(now time.Time) {
	d.Deleted = true
	d.DeletedAt = &now
	d.UpdatedAt = now
	d.SyncState = StatePendingUpload
}

// Attachment returns the attachment with the given file name.
func (d *Document) Attachment(fileName string) (*FileAttachment, bool) {
	for i := range d.Attachments {
		if d.Attachments[i].FileName == fileName {
			return &d.Attachments[i], true
		}
	}
	return nil, false
}

// SameContent reports whether two documents carry identical user data,
// ignoring versions and sync bookkeeping.
func (d *Document) SameContent(o *Document) bool {
	if d.Title != o.Title || d.Category != o.Category || d.Notes != o.Notes || d.Deleted != o.Deleted {
		return false
	}
	if len(d.Metadata) != len(o.Metadata) {
		return false
	}
	for i := range d.Metadata {
		if d.Metadata[i] != o.Metadata[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	c := *d
	c.Metadata = append([]Metadata(nil), d.Metadata...)
	c.Attachments = append([]FileAttachment(nil), d.Attachments...)
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}
