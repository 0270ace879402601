package auth

import (
	"time"
)

// SessionClaims are carried inside an encrypted session handle.
type SessionClaims struct {
	SessionID string `json:"session_id"`
	Client    string `json:"client,omitempty"`

	// Standard PASETO claims
	Issuer     string    `json:"iss"`
	Subject    string    `json:"sub"`
	Audience   string    `json:"aud"`
	Expiration time.Time `json:"exp"`
	NotBefore  time.Time `json:"nbf"`
	IssuedAt   time.Time `json:"iat"`
	TokenID    string    `json:"jti"`
}

// ClientInfo describes the player that opened a session.
type ClientInfo struct {
	Name     string `json:"name,omitempty" validate:"max=64"`     // ListenUp Mobile
	Version  string `json:"version,omitempty" validate:"max=32"`  // 1.4.0
	Platform string `json:"platform,omitempty" validate:"max=32"` // iOS, Android, Web
}

// String renders the client for logs and claims.
func (c ClientInfo) String() string {
	switch {
	case c.Name == "":
		return c.Platform
	case c.Version != "":
		return c.Name + "/" + c.Version
	default:
		return c.Name
	}
}
