// internal/utils/crypto.go
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentID is the content address of data: the lowercase hex SHA-256 of
// its bytes.
func ContentID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateFileHash reports whether data hashes to expectedHash.
func ValidateFileHash(data []byte, expectedHash string) bool {
	return ContentID(data) == strings.ToLower(expectedHash)
}

func IsContentID(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
