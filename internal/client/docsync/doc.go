// Package docsync pushes local document changes to the remote document
// store and applies remote changes locally.
//
// Every document moves through pendingUpload, uploading and synced (or
// error); remote changes arrive as pendingDownload until their attachments
// are fetched. Writes to the remote store are conditional on the version the
// client last saw, so concurrent edits on two devices become Conflicts that
// are resolved by the user or by a configured policy. Work on one document
// is serialized.
package docsync
