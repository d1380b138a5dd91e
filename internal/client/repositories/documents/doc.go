// Package documents provides the client-side persistence layer for
// documents (see internal/client/models).
//
// # Overview
//
// Repository covers CRUD, state selectors and bulk state resets. The SQLite
// implementation runs over a dbx.DBTX, so the same code serves a plain
// *sql.DB and a *sql.Tx opened by dbx.WithTx.
//
// Attachments are stored by the attachments package; Get and List return
// documents without them.
//
// Timestamps are stored as unix milliseconds and user metadata as a JSON
// array.
package documents
