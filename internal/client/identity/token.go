package identity

import (
	"fmt"

	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims mirrors the claims the server puts into access tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// FromAccessToken reads the identity out of an access token without
// verifying its signature. The server remains the authority on validity.
func FromAccessToken(token string) (Credentials, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Credentials{}, fmt.Errorf("parse access token: %w", common.ErrInvalidToken)
	}
	if claims.UserID == "" {
		return Credentials{}, fmt.Errorf("access token has no user id: %w", common.ErrInvalidToken)
	}
	c := Credentials{
		Identity:    Identity{StableID: claims.UserID, DisplayName: claims.Username},
		AccessToken: token,
	}
	if claims.ExpiresAt != nil {
		c.CredentialsValidUntil = claims.ExpiresAt.Time
	}
	return c, nil
}
