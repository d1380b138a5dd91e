// Package cli provides the interactive docsync command-line client.
//
// It wires configuration, the local SQLite store, the remote document and
// blob stores and the sync engines, and runs a REPL on top of them. In
// offline mode the remote side is replaced by in-process stores and a local
// account database, which is enough to try every command without a server.
//
// Typical flow: register or log in, add documents and attachments, and let
// the background session push and pull them. The REPL is started via
// App.Run(ctx), which blocks until the user exits.
package cli
