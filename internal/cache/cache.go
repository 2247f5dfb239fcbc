// Package cache stores callsign lookup results so repeated spots of the same
// station do not hit the lookup service.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

const keyPrefix = "dxmap:v1:"

// CallsignKey builds the cache key for a callsign. The hash keeps portable
// calls like "VP2E/W1AW" safe as file names.
func CallsignKey(call string) string {
	hash := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(call))))
	return keyPrefix + hex.EncodeToString(hash[:16])
}
