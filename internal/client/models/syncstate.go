package models

import "fmt"

// SyncState is the lifecycle position of a document or attachment
// relative to the remote store.
type SyncState string

const (
	StatePendingUpload   SyncState = "pendingUpload"
	StateUploading       SyncState = "uploading"
	StateSynced          SyncState = "synced"
	StatePendingDownload SyncState = "pendingDownload"
	StateDownloading     SyncState = "downloading"
	StateError           SyncState = "error"
)

var transitions = map[SyncState][]SyncState{
	StatePendingUpload:   {StateUploading, StateError, StateSynced},
	StateUploading:       {StateSynced, StateError, StatePendingUpload},
	StateSynced:          {StatePendingUpload, StatePendingDownload},
	StatePendingDownload: {StateDownloading, StateError, StatePendingUpload, StateSynced},
	StateDownloading:     {StateSynced, StateError, StatePendingDownload},
	StateError:           {StatePendingUpload, StatePendingDownload, StateUploading, StateDownloading, StateSynced},
}

// Valid reports whether s is a known state.
func (s SyncState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is allowed.
// Staying in the same state is always allowed.
func (s SyncState) CanTransition(next SyncState) bool {
	if s == next {
		return next.Valid()
	}
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// InFlight reports whether s is a transient state owned by a running pass.
func (s SyncState) InFlight() bool {
	return s == StateUploading || s == StateDownloading
}

// ParseSyncState converts a stored value back into a SyncState.
func ParseSyncState(v string) (SyncState, error) {
	s := SyncState(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown sync state %q", v)
	}
	return s, nil
}
