// Package models defines the client-side sync records: documents, their
// file attachments, sync states, conflicts, migration bookkeeping and the
// local sync event log.
package models
