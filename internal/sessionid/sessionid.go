// Package sessionid mints the opaque tokens used for sessions and
// connections: UUIDv7 time-ordered identifiers encoded as 26-character
// Crockford base32 strings, so listings sort by creation time.
package sessionid

import (
	"crypto/rand"
	"fmt"
	"time"
)

const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// RandSource allows deterministic randomness in tests
type RandSource interface {
	Intn(n int) int
}

// New returns a fresh identifier using crypto/rand
func New() string {
	return generate(nil)
}

// NewWithRand returns a fresh identifier drawing randomness from src
func NewWithRand(src RandSource) string {
	return generate(src)
}

func generate(src RandSource) string {
	var id [16]byte

	// 48-bit millisecond timestamp, then version/variant bits per
	// UUIDv7, then random tail.
	now := time.Now().UnixMilli()
	for i := 0; i < 6; i++ {
		id[i] = byte(now >> (40 - 8*i))
	}

	if src != nil {
		for i := 6; i < 16; i++ {
			id[i] = byte(src.Intn(256))
		}
	} else {
		if _, err := rand.Read(id[6:]); err != nil {
			panic("sessionid: failed to read random bytes: " + err.Error())
		}
	}

	id[6] = (id[6] & 0x0f) | 0x70
	id[8] = (id[8] & 0x3f) | 0x80

	return encode(id)
}

// encode packs 128 bits into 26 base32 characters, 5 bits at a time
func encode(id [16]byte) string {
	out := make([]byte, 26)
	for i := range out {
		bit := i * 5
		byteIdx := bit / 8
		bitIdx := bit % 8

		var v uint8
		if byteIdx < 16 {
			if bitIdx <= 3 {
				v = (id[byteIdx] >> (3 - bitIdx)) & 0x1f
			} else {
				v = (id[byteIdx] << (bitIdx - 3)) & 0x1f
				if byteIdx+1 < 16 {
					v |= id[byteIdx+1] >> (11 - bitIdx)
				}
			}
		}
		out[i] = alphabet[v]
	}
	return string(out)
}

// Validate checks that an identifier is well-formed
func Validate(id string) error {
	if len(id) != 26 {
		return fmt.Errorf("session id must be exactly 26 characters, got %d", len(id))
	}
	if id[0] > '7' {
		return fmt.Errorf("session id first character must be 0-7, got %c", id[0])
	}
	for i, ch := range id {
		found := false
		for _, valid := range alphabet {
			if ch == valid {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("invalid character %c at position %d", ch, i)
		}
	}
	return nil
}
