package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex digests raw bytes to lowercase hex. Used to derive redis keys
// from webhook payloads without holding on to the payload itself.
func Sha256Hex(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}
