package cache

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/ppiankov/dxmap/internal/model"
)

// HitStore stores lookup hits as JSON in a byte cache
type HitStore struct {
	cache Cache
	// failedTTL keeps negative answers shorter than positive ones
	failedTTL time.Duration
}

// NewHitStore wraps c. Failed hits expire after failedTTL.
func NewHitStore(c Cache, failedTTL time.Duration) *HitStore {
	return &HitStore{cache: c, failedTTL: failedTTL}
}

// Get returns the cached hit for call. The sequence tag is not stored.
func (s *HitStore) Get(call string) (model.Hit, bool) {
	data, ok := s.cache.Get(CallsignKey(call))
	if !ok {
		return model.Hit{}, false
	}
	var hit model.Hit
	if err := json.Unmarshal(data, &hit); err != nil {
		return model.Hit{}, false
	}
	return hit, true
}

// Put caches hit under call. Approximate hits are never cached.
func (s *HitStore) Put(call string, hit model.Hit) error {
	if hit.Approximate {
		return nil
	}
	hit.Seq = 0
	data, err := json.Marshal(hit)
	if err != nil {
		return fmt.Errorf("marshal hit: %w", err)
	}

	var ttl time.Duration
	if hit.Failed {
		ttl = s.failedTTL
	}
	return s.cache.Set(CallsignKey(call), data, ttl)
}
