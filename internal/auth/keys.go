// Package auth issues and verifies playback session handles.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// PASETO v4 requires a 256-bit (32-byte) symmetric key.
	keyLength = 32
	// Expected hex-encoded length (32 bytes = 64 hex characters).
	keyHexLength = 64
)

// LoadOrGenerateKey returns the hex-encoded session key stored in
// <metadataPath>/session.key, creating the file with a random key on first use.
func LoadOrGenerateKey(metadataPath string) (string, error) {
	keyPath := filepath.Join(metadataPath, "session.key")

	//#nosec G304 -- Key path is derived from the configured metadata path
	if keyBytes, err := os.ReadFile(keyPath); err == nil {
		keyHex := strings.TrimSpace(string(keyBytes))
		if err := checkKeyHex(keyHex); err != nil {
			return "", fmt.Errorf("invalid session key in %s: %w", keyPath, err)
		}
		return keyHex, nil
	}

	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate session key: %w", err)
	}
	keyHex := hex.EncodeToString(key)

	if err := os.MkdirAll(metadataPath, 0o700); err != nil {
		return "", fmt.Errorf("failed to create metadata directory: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(keyHex), 0o600); err != nil {
		return "", fmt.Errorf("failed to save session key: %w", err)
	}

	return keyHex, nil
}

func checkKeyHex(keyHex string) error {
	if len(keyHex) != keyHexLength {
		return fmt.Errorf("expected %d hex chars, got %d", keyHexLength, len(keyHex))
	}
	if _, err := hex.DecodeString(keyHex); err != nil {
		return fmt.Errorf("not valid hex: %w", err)
	}
	return nil
}
