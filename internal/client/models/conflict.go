package models

import (
	"fmt"
	"time"
)

// Resolution is the user's (or policy's) choice for a conflict.
type Resolution string

const (
	ResolutionKeepBoth   Resolution = "keepBoth"
	ResolutionLocalWins  Resolution = "localWins"
	ResolutionRemoteWins Resolution = "remoteWins"
)

func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(s); r {
	case ResolutionKeepBoth, ResolutionLocalWins, ResolutionRemoteWins:
		return r, nil
	default:
		return "", fmt.Errorf("unknown resolution %q", s)
	}
}

// Conflict captures both versions of a document whose local and remote
// edits diverged. It stays in local storage until resolved.
type Conflict struct {
	ID         string
	SyncID     string
	Local      Document
	Remote     Document
	DetectedAt time.Time
	Resolution Resolution
	ResolvedAt *time.Time
}
