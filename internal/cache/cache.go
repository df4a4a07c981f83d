// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache stores parsed schema maps so repeated runs over the same
// document skip re-reading and re-validating the discovery output.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache is a byte-oriented key/value store with per-entry expiry. A zero ttl
// means the implementation default.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key derives a cache key from content.
func Key(content []byte) string {
	hash := sha256.Sum256(content)
	return "compliance:v1:" + hex.EncodeToString(hash[:])
}
