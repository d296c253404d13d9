// internal/checkpoint/hash.go
package checkpoint

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// CalculateHash returns the hex blake2b-256 digest of content
func CalculateHash(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}
