// Package identity assigns content-addressed story ids and detects stories
// already published on an earlier day.
//
// Canonical form of raw text: Unicode NFC, zero-width characters and soft
// hyphens removed, every run of Unicode white space collapsed to one ASCII
// space, leading and trailing space trimmed. Case is preserved. The id is the
// lowercase hex encoding of the first 16 bytes of SHA-256 over the canonical
// UTF-8 bytes, so it is always IDLength characters long.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// IDLength is the length of every story id.
const IDLength = 32

func invisible(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad':
		return true
	}
	return false
}

// Canonicalize returns the form of raw that ids are computed over.
func Canonicalize(raw string) string {
	s := norm.NFC.String(raw)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case invisible(r):
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// ID returns the story id for raw text.
func ID(raw string) string {
	sum := sha256.Sum256([]byte(Canonicalize(raw)))
	return hex.EncodeToString(sum[:IDLength/2])
}

// Valid reports whether id has the shape ID produces.
func Valid(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for _, r := range id {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}
