package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Subject identifies the dashboard client that exchanged the shared key.
type Claims struct {
	jwt.RegisteredClaims

	TokenType TokenType `json:"token_type"`
}
