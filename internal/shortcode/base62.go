// Package shortcode turns numeric identifiers into the short codes that
// appear in shortened URLs, and mints the identifiers themselves.
package shortcode

import (
	"errors"
	"math"
)

// Base62 character set used for short codes. Order matters: decode relies
// on the index of each character.
const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = 62

// MaxCodeLen is the longest code Decode accepts. Encode of the largest
// uint64 produces 11 characters, so anything longer cannot round-trip.
const MaxCodeLen = 11

// ErrInvalidCode is returned when a code contains characters outside the
// Base62 alphabet, is empty, or exceeds MaxCodeLen.
var ErrInvalidCode = errors.New("invalid short code")

var charValues [256]int16

func init() {
	for i := range charValues {
		charValues[i] = -1
	}
	for i := 0; i < len(base62Chars); i++ {
		charValues[base62Chars[i]] = int16(i)
	}
}

// Encode converts an identifier to its Base62 short code.
// Encode(0) == "0"; larger identifiers yield longer codes, up to 11
// characters for the full uint64 range. Pure and goroutine-safe.
func Encode(id uint64) string {
	if id == 0 {
		return string(base62Chars[0])
	}
	buf := make([]byte, 0, MaxCodeLen)
	for id > 0 {
		buf = append(buf, base62Chars[id%base])
		id /= base
	}
	// Digits come out low-order first.
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// Decode is the inverse of Encode. It fails with ErrInvalidCode on
// characters outside the alphabet, on empty input, on codes longer than
// MaxCodeLen, and on values that overflow uint64.
func Decode(code string) (uint64, error) {
	if code == "" || len(code) > MaxCodeLen {
		return 0, ErrInvalidCode
	}
	var id uint64
	for i := 0; i < len(code); i++ {
		v := charValues[code[i]]
		if v < 0 {
			return 0, ErrInvalidCode
		}
		// Reject before multiplying: id*base can wrap all the way past
		// 2^64 to a value that still looks plausible.
		if id > (math.MaxUint64-uint64(v))/base {
			return 0, ErrInvalidCode
		}
		id = id*base + uint64(v)
	}
	return id, nil
}

// Valid reports whether every character of code belongs to the Base62
// alphabet. It does not bound the length; callers enforce their own.
func Valid(code string) bool {
	if code == "" {
		return false
	}
	for i := 0; i < len(code); i++ {
		if charValues[code[i]] < 0 {
			return false
		}
	}
	return true
}
