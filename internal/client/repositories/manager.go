package repositories

import (
	"github.com/dmitrijs2005/docsync/internal/client/repositories/attachments"
	"github.com/dmitrijs2005/docsync/internal/client/repositories/conflicts"
	"github.com/dmitrijs2005/docsync/internal/client/repositories/documents"
	"github.com/dmitrijs2005/docsync/internal/client/repositories/events"
	"github.com/dmitrijs2005/docsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/docsync/internal/dbx"
)

// Manager builds repositories bound to a given DBTX, so callers can run
// several of them inside one dbx.WithTx transaction.
type Manager interface {
	Documents(db dbx.DBTX) documents.Repository
	Attachments(db dbx.DBTX) attachments.Repository
	Conflicts(db dbx.DBTX) conflicts.Repository
	Events(db dbx.DBTX) events.Repository
	Metadata(db dbx.DBTX) metadata.Repository
}

type SQLiteManager struct{}

func NewSQLiteManager() *SQLiteManager { return &SQLiteManager{} }

func (SQLiteManager) Documents(db dbx.DBTX) documents.Repository {
	return documents.NewSQLiteRepository(db)
}

func (SQLiteManager) Attachments(db dbx.DBTX) attachments.Repository {
	return attachments.NewSQLiteRepository(db)
}

func (SQLiteManager) Conflicts(db dbx.DBTX) conflicts.Repository {
	return conflicts.NewSQLiteRepository(db)
}

func (SQLiteManager) Events(db dbx.DBTX) events.Repository {
	return events.NewSQLiteRepository(db)
}

func (SQLiteManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}
