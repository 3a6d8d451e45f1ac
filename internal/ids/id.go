// Package ids generates vault entry identifiers and turns free text into
// filesystem-safe slugs.
package ids

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// crockfordBase is the Crockford base32 alphabet: no I, L, O, U to avoid
// confusion with 1, 1, 0, V.
const crockfordBase = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Length is the total character count of a generated ID.
const Length = timestampChars + randomChars

const (
	timestampChars = 10 // 50 bits, enough for milliseconds until year ~37648
	randomChars    = 16 // 80 bits of randomness
)

// New returns a 26-character, time-ordered, lexicographically sortable
// identifier: the first 10 characters encode the current time in
// milliseconds since the Unix epoch, the remaining 16 are random.
//
// IDs are unique within a vault only by convention of the random tail;
// New never returns an error because crypto/rand failures on a supported
// platform are unrecoverable and panicking here would only move the crash
// to the next allocation.
func New() string {
	return newAt(time.Now())
}

func newAt(t time.Time) string {
	ms := uint64(t.UnixMilli()) //nolint:gosec // ms epoch fits in 50 bits until year 37648

	var buf strings.Builder
	buf.Grow(Length)
	buf.WriteString(encodeCrockford(ms, timestampChars))
	buf.WriteString(randomSuffix(randomChars))

	return buf.String()
}

// randomSuffix returns n crockford-base32 characters sourced from crypto/rand.
func randomSuffix(n int) string {
	// One random byte per char; its low 5 bits pick the symbol, so every
	// char carries 5 independent random bits.
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		panic(fmt.Sprintf("ids: crypto/rand unavailable: %v", err))
	}

	buf := make([]byte, n)
	for i, b := range raw {
		buf[i] = crockfordBase[b&0x1f]
	}

	return string(buf)
}

// encodeCrockford encodes value into exactly n crockford base32 characters,
// most significant symbol first, truncating any higher bits that don't fit.
func encodeCrockford(value uint64, n int) string {
	buf := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		buf[i] = crockfordBase[value&0x1f]
		value >>= 5
	}

	return string(buf)
}

// Timestamp extracts the millisecond timestamp encoded in the first 10
// characters of id. Returns false if id is too short or contains characters
// outside the Crockford alphabet.
func Timestamp(id string) (time.Time, bool) {
	if len(id) < timestampChars {
		return time.Time{}, false
	}

	var ms uint64

	for i := range timestampChars {
		idx := strings.IndexByte(crockfordBase, upper(id[i]))
		if idx < 0 {
			return time.Time{}, false
		}

		ms = ms<<5 | uint64(idx)
	}

	return time.UnixMilli(int64(ms)), true //nolint:gosec // round-trips a value we encoded ourselves
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}

	return b
}
