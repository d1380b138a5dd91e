package rpc

import "time"

const StatusOK = "OK"

// RemoteDocumentTrailer carries the JSON-encoded current remote document
// when a conditional write is rejected.
const RemoteDocumentTrailer = "remote-document-bin"

type Empty struct{}

type PingResponse struct {
	Status string `json:"status"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type Metadata struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Attachment struct {
	FileName        string    `json:"file_name"`
	RemoteKey       string    `json:"remote_key"`
	FileSize        int64     `json:"file_size"`
	Checksum        string    `json:"checksum,omitempty"`
	ContentEncoding string    `json:"content_encoding,omitempty"`
	AddedAt         time.Time `json:"added_at"`
}

type Document struct {
	SyncID      string       `json:"sync_id"`
	Title       string       `json:"title"`
	Category    string       `json:"category,omitempty"`
	Notes       string       `json:"notes,omitempty"`
	Metadata    []Metadata   `json:"metadata,omitempty"`
	Version     int64        `json:"version"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Deleted     bool         `json:"deleted,omitempty"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type GetDocumentRequest struct {
	SyncID string `json:"sync_id"`
}

type DocumentResponse struct {
	Document *Document `json:"document"`
}

type ListDocumentsRequest struct {
	IncludeDeleted bool `json:"include_deleted"`
}

type ListDocumentsResponse struct {
	Documents []*Document `json:"documents"`
}

type CreateDocumentRequest struct {
	Document *Document `json:"document"`
}

type UpdateDocumentRequest struct {
	Document        *Document `json:"document"`
	ExpectedVersion int64     `json:"expected_version"`
}

type DeleteDocumentRequest struct {
	SyncID          string `json:"sync_id"`
	ExpectedVersion int64  `json:"expected_version"`
}

// BatchItem is one write of a BatchPut. ExpectedVersion 0 creates the document.
type BatchItem struct {
	Document        *Document `json:"document"`
	ExpectedVersion int64     `json:"expected_version"`
}

// BatchResult reports the outcome of one BatchItem. Code is the gRPC code
// the single-item call would have returned; Remote is set for conflicts.
type BatchResult struct {
	SyncID   string    `json:"sync_id"`
	Code     uint32    `json:"code"`
	Message  string    `json:"message,omitempty"`
	Document *Document `json:"document,omitempty"`
	Remote   *Document `json:"remote,omitempty"`
}

type BatchPutRequest struct {
	Items []*BatchItem `json:"items"`
}

type BatchPutResponse struct {
	Results []*BatchResult `json:"results"`
}

type SubscribeRequest struct{}

// ChangeEvent tells a subscriber that a document of theirs changed remotely.
type ChangeEvent struct {
	SyncID  string    `json:"sync_id"`
	Version int64     `json:"version"`
	Deleted bool      `json:"deleted,omitempty"`
	At      time.Time `json:"at"`
}
