// Package cas provides content-addressing helpers: BLAKE3 hashing and
// name-derived identifiers.
package cas

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

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
	return blake3.New(32, nil)
}

// NameUUID derives a stable UUID from a name. The same name always yields
// the same UUID, so a repository keeps its identity across index rebuilds.
func NameUUID(name string) string {
	return uuid.NewHash(NewBlake3Hasher(), uuid.NameSpaceURL, []byte(name), 5).String()
}
