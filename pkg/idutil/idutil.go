// Package idutil provides identifier normalization and generation
// shared by the world runtime and storage layers: kebab-case
// normalization for world/agent identifiers, short random tokens for
// message ids, and the generic "resolve by id, name, or normalized
// form" lookup.
package idutil

import (
	"crypto/rand"
	"strings"
)

// KebabCase normalizes a human-entered name or id into the canonical
// lower-case, hyphen-separated form worlds and agents are keyed by.
// Runs of anything other than ASCII letters/digits collapse to a single
// hyphen; leading/trailing hyphens are trimmed.
func KebabCase(s string) string {
	var b strings.Builder
	prevHyphen := true // treat start-of-string as "already hyphenated" to avoid a leading hyphen
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomToken returns a random string of length n drawn from tokenAlphabet.
func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on the standard reader only fails if the OS
		// entropy source is unavailable, which is unrecoverable here.
		panic(err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out)
}

// NewMessageID returns a fresh 10-character message token.
func NewMessageID() string {
	return randomToken(10)
}

// NewChatID returns a time-ordered, unique chat identifier: a sortable
// timestamp prefix followed by a random suffix, so chats created later
// in the same world naturally sort after earlier ones.
func NewChatID(nowUnixNano int64) string {
	return itoa36(nowUnixNano) + "-" + randomToken(6)
}

// itoa36Padded renders n in base36, zero-padded to a fixed width so that
// chat-id timestamp prefixes remain lexicographically sortable.
func itoa36(n int64) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	const width = 13 // covers unix-nano timestamps through year ~2059
	var b [width]byte
	for i := width - 1; i >= 0; i-- {
		b[i] = digits[n%36]
		n /= 36
	}
	return string(b[:])
}

// Resolve implements the identifier resolution rule shared by world and
// agent lookups: given raw input x, it first tries the
// kebab-cased form as a direct key into byID; on miss it scans byID
// looking for any stored id or display name (or their kebab-cased forms)
// equal to x or kebab(x). If nothing matches, it returns kebab(x) with
// found=false so callers can build a stable "not found: <id>" message.
func Resolve[T any](byID map[string]T, nameOf func(T) string, input string) (id string, value T, found bool) {
	norm := KebabCase(input)
	if v, ok := byID[norm]; ok {
		return norm, v, true
	}
	for storedID, v := range byID {
		name := nameOf(v)
		if storedID == input || name == input ||
			KebabCase(storedID) == input || KebabCase(name) == input ||
			KebabCase(storedID) == norm || KebabCase(name) == norm {
			return storedID, v, true
		}
	}
	var zero T
	return norm, zero, false
}
