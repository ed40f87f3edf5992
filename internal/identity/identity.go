// Package identity derives the stable keys that tie a document to its storage.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

const namespacePrefix = "chunks_"

// Identifier returns the lowercase hex SHA-256 digest of a canonical link.
func Identifier(canonicalLink string) string {
	sum := sha256.Sum256([]byte(canonicalLink))
	return hex.EncodeToString(sum[:])
}

// NamespaceKey names the vector namespace holding a document's chunks.
func NamespaceKey(identifier string) string {
	return namespacePrefix + identifier
}

// ChunkID names one chunk inside a namespace.
func ChunkID(identifier string, index int) string {
	return identifier + "_chunk_" + strconv.Itoa(index)
}
