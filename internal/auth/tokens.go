package auth

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"

	"github.com/listenupapp/listenup-captions/internal/id"
)

const (
	tokenIssuer   = "listenup-captions"
	tokenAudience = "listenup-player"
)

// TokenService issues PASETO v4.local session handles.
type TokenService struct {
	symmetricKey paseto.V4SymmetricKey
	duration     time.Duration
	now          func() time.Time
}

// NewTokenService creates a token service from a hex-encoded 32-byte key.
func NewTokenService(keyHex string, duration time.Duration) (*TokenService, error) {
	if err := checkKeyHex(keyHex); err != nil {
		return nil, fmt.Errorf("PASETO v4 key: %w", err)
	}
	keyBytes, _ := hex.DecodeString(keyHex) //nolint:errcheck // checked above

	key, err := paseto.V4SymmetricKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create PASETO symmetric key: %w", err)
	}

	return &TokenService{
		symmetricKey: key,
		duration:     duration,
		now:          time.Now,
	}, nil
}

// Issue creates a handle for a playback session.
func (s *TokenService) Issue(sessionID string, client ClientInfo) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.duration)

	token := paseto.NewToken()
	token.SetIssuer(tokenIssuer)
	token.SetSubject(sessionID)
	token.SetAudience(tokenAudience)
	token.SetIssuedAt(now)
	token.SetNotBefore(now)
	token.SetExpiration(expires)

	tokenID, err := id.Generate(id.PrefixToken)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token ID: %w", err)
	}
	token.SetJti(tokenID)

	//nolint:errcheck // Token.Set only errors on invalid types, which we control
	_ = token.Set("session_id", sessionID)
	if c := client.String(); c != "" {
		//nolint:errcheck // as above
		_ = token.Set("client", c)
	}

	return token.V4Encrypt(s.symmetricKey, nil), expires, nil
}

// Verify decrypts a handle and checks its audience, issuer and lifetime.
func (s *TokenService) Verify(tokenString string) (*SessionClaims, error) {
	parser := paseto.NewParser()
	parser.AddRule(paseto.ForAudience(tokenAudience))
	parser.AddRule(paseto.IssuedBy(tokenIssuer))
	parser.AddRule(paseto.NotExpired())
	parser.AddRule(paseto.ValidAt(s.now()))

	token, err := parser.ParseV4Local(s.symmetricKey, tokenString, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	var claims SessionClaims
	if err := json.Unmarshal(token.ClaimsJSON(), &claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("invalid token: missing session id")
	}
	return &claims, nil
}

// Duration returns the configured handle lifetime.
func (s *TokenService) Duration() time.Duration {
	return s.duration
}
