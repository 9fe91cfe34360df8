// Package fingerprint derives the cache keys used for deduplication:
// a sha256 digest for raw content and a reversible base64 encoding for
// extracted text.
package fingerprint

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// HashContent returns the hex sha256 digest of the raw payload. Identical
// bytes always fingerprint identically, regardless of filename.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// EncodeText returns the base64 text key for extracted text. This is a
// reversible encoding, not a hash: minor text variants produce distinct
// keys and there is no collision resistance. Kept as-is for cache
// compatibility; strengthening it to a digest would change hit rates.
func EncodeText(text string) string {
	return base64.StdEncoding.EncodeToString([]byte(text))
}

// DecodeText reverses EncodeText.
func DecodeText(key string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
