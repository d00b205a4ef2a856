// Package cas provides content-addressing utilities for serialized documents:
// BLAKE3 digests and the timestamps recorded next to them.
package cas

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"lukechampine.com/blake3"
)

// DigestSize is the length in bytes of a document digest.
const DigestSize = 32

// NowMs returns the current time in milliseconds since epoch.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// Blake3Hash computes a BLAKE3 hash of the input and returns it as bytes.
func Blake3Hash(data []byte) []byte {
	hash := blake3.Sum256(data)
	return hash[:]
}

// Blake3HashHex computes a BLAKE3 hash and returns it as a hex string.
func Blake3HashHex(data []byte) string {
	return hex.EncodeToString(Blake3Hash(data))
}

// NewBlake3Hasher returns a new streaming BLAKE3 hasher.
func NewBlake3Hasher() *blake3.Hasher {
	return blake3.New(DigestSize, nil)
}

// HashReader streams r through BLAKE3 and returns the hex digest and the
// number of bytes consumed.
func HashReader(r io.Reader) (string, int64, error) {
	h := NewBlake3Hasher()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hashing stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ValidDigest reports whether s is a well-formed hex digest.
func ValidDigest(s string) bool {
	if len(s) != DigestSize*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ShortDigest returns the display prefix of a hex digest.
func ShortDigest(digest string) string {
	if len(digest) <= 12 {
		return digest
	}
	return digest[:12]
}
