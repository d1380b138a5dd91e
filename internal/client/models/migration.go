package models

import "time"

type MigrationStatus string

const (
	MigrationMigrated MigrationStatus = "migrated"
	MigrationFailed   MigrationStatus = "failed"
	MigrationSkipped  MigrationStatus = "skipped"
)

// MigrationRecord tracks one attachment moved from a legacy key within the
// current process.
type MigrationRecord struct {
	AttachmentID int64
	SyncID       string
	LegacyKey    string
	NewKey       string
	Status       MigrationStatus
	Err          string
	At           time.Time
}

// MigrationResult summarizes one Migrate run.
type MigrationResult struct {
	TotalFiles    int
	MigratedFiles int
	FailedFiles   int
	SkippedFiles  int
	Duration      time.Duration
}

func (r MigrationResult) DurationSeconds() float64 { return r.Duration.Seconds() }
