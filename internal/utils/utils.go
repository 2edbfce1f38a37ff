package utils

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
)

// RandomID returns a random positive 63-bit identifier.
func RandomID() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	id := int64(binary.BigEndian.Uint64(buf[:]) >> 1)
	if id == 0 {
		return RandomID()
	}
	return id, nil
}

// Blank reports whether s is empty or all whitespace.
func Blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
