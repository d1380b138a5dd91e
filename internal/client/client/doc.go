// Package client contains the client-side adapters to the docsync backend.
//
// # Overview
//
// The package provides:
//  1. The DocumentStore contract the sync engines talk to: Get, List,
//     Create, conditional Update and SoftDelete, BatchPut and Subscribe.
//  2. GRPCClient, the gRPC implementation. It injects the access token via
//     an interceptor, transparently refreshes expired tokens once, maps gRPC
//     status codes to the sentinel errors in internal/common and turns
//     rejected conditional writes into *common.VersionConflictError. It is
//     also the identity.Provider for the session.
//  3. MemoryBackend, an in-process document store with per-owner views used
//     for offline demos and tests.
//  4. InitDatabase, which opens the local SQLite database and applies the
//     embedded goose migrations.
//
// # Error Handling
//
// Callers match errors with errors.Is against common.ErrNetworkTransient,
// common.ErrAuthExpired, common.ErrNotAuthenticated, common.ErrNotFound,
// common.ErrVersionConflict and friends; ErrUnavailable wraps
// common.ErrNetworkTransient.
//
// Concurrency & Contexts
//
// GRPCClient and MemoryBackend are safe for concurrent use. All operations
// accept context.Context and honor cancellation.
package client
