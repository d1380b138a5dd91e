// Package syncstate owns the sync bookkeeping of documents and attachments:
// state selectors, transition-checked state changes, application of remote
// changes, conflict rows and the local event log.
//
// Every write runs in a single dbx.WithTx transaction over the SQLite
// repositories. The package performs no network or file I/O.
package syncstate
