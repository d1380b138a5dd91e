// Package common contains shared constants and sentinel errors used across
// docsync components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// RefreshTokenHeaderName carries the refresh token on the Refresh call.
const RefreshTokenHeaderName = "refresh_token"
