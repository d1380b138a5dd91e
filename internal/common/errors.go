// Package common defines shared constants and sentinel errors used across
// client and server layers of docsync. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrInternal        = errors.New("internal error")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrVersionConflict = errors.New("version conflict")

	// Sync taxonomy. Transient errors are retried, the rest are terminal
	// unless stated otherwise.
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrAuthExpired      = errors.New("credentials expired")
	ErrNetworkTransient = errors.New("transient network error")
	ErrIntegrity        = errors.New("integrity check failed")
	ErrPathGeneration   = errors.New("storage path generation failed")
	ErrValidation       = errors.New("validation failed")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)
