// Package utils provides shared utilities for all modules.
// This file contains content hashing utilities using SHA256 for
// content-addressable storage and deduplication.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes returns the SHA256 content hash of data as a 64-character
// hex string. This is the canonical content hash used for exact
// duplicate detection and content-addressable storage paths.
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ValidateHash reports whether a string is a well-formed content hash:
// 64 hex characters, the textual form of SHA256.
func ValidateHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
