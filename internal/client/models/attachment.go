package models

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const EncodingGzip = "gzip"

var fileNameRe = regexp.MustCompile(`^[^/\\]+$`)

// FileAttachment is a binary file belonging to a document. RemoteKey is
// empty until the bytes are uploaded; LocalPath is empty until they are
// downloaded. LegacyKey keeps the pre-migration key while a fallback may
// still be needed.
type FileAttachment struct {
	ID              int64
	SyncID          string
	FileName        string
	LocalPath       string
	RemoteKey       string
	LegacyKey       string
	FileSize        int64
	Checksum        string
	ContentEncoding string
	AddedAt         time.Time
	SyncState       SyncState
	LastError       string
}

func (a *FileAttachment) Validate() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.SyncID, validation.Required),
		validation.Field(&a.FileName, validation.Required, validation.Length(1, 255),
			validation.Match(fileNameRe).Error("file name cannot contain path separators")),
		validation.Field(&a.FileSize, validation.Min(int64(0))),
	)
}

// Disambiguator is the key component that keeps repeated attachments of the
// same file name apart. It is fixed when the attachment is created.
func (a *FileAttachment) Disambiguator() int64 {
	return a.AddedAt.UnixMilli()
}

// Uploaded reports whether the blob exists remotely.
func (a *FileAttachment) Uploaded() bool { return a.RemoteKey != "" }

// Downloaded reports whether a local copy is known.
func (a *FileAttachment) Downloaded() bool { return a.LocalPath != "" }
