// Package id generates identifiers for catalog entities and transcript sentences.
package id

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the entities the service persists.
const (
	PrefixBook    = "bk"
	PrefixSession = "ses"
	PrefixChunk   = "chk"
	PrefixJob     = "tj"
	PrefixClient  = "sse"
	PrefixToken   = "tok"
)

// Generate creates a prefixed NanoID, e.g. "bk-V1StGXR8_Z5jdHi6B-myT".
//
// Returns an error if the system has insufficient entropy.
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics if ID generation fails.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// Sentence returns an opaque identifier for a transcribed sentence.
// Sentences are produced in bulk by transcription runs, so these are
// plain random UUIDs rather than prefixed NanoIDs.
func Sentence() string {
	return uuid.NewString()
}
