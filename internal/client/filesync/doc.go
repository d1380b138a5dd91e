// Package filesync moves attachment bytes between local files and the blob
// store.
//
// Uploads are validated, optionally gzip-compressed and sent either as a
// single object or as a resumable multipart upload. Progress is reported on
// a Transfer's event channel. Downloads land in a deterministic cache path
// and are verified (checksum, size, magic bytes) before they are renamed into
// place. All remote calls go through the retry manager and share one
// engine-wide concurrency cap.
package filesync
