package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/dxmap/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallsignKey(t *testing.T) {
	assert.Equal(t, CallsignKey("w1aw"), CallsignKey(" W1AW "))
	assert.NotEqual(t, CallsignKey("W1AW"), CallsignKey("W1AX"))

	key := CallsignKey("VP2E/W1AW")
	assert.True(t, strings.HasPrefix(key, "dxmap:v1:"))
	assert.NotContains(t, key, "/")
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	require.NoError(t, c.Set("a", []byte(`1`), 0))
	require.NoError(t, c.Set("b", []byte(`2`), time.Nanosecond))
	time.Sleep(time.Millisecond)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte(`1`), v)
	_, ok = c.Get("b")
	assert.False(t, ok)

	require.NoError(t, c.Delete("a"))
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestDiskCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lookups")
	c := NewDiskCache(dir, time.Hour)

	require.NoError(t, c.Set("k", []byte(`{"x":1}`), 0))
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.JSONEq(t, `{"x":1}`, string(v))

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, ok = c.Get("k")
	assert.False(t, ok, "expired entries are dropped")
	_, err := os.Stat(c.path("k"))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, c.Delete("missing"))
}

func TestDiskCache_CorruptEntry(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)
	require.NoError(t, os.WriteFile(c.path("bad"), []byte("not json"), 0o644))

	_, ok := c.Get("bad")
	assert.False(t, ok)
}

func TestLayeredCache_PromotesFromDisk(t *testing.T) {
	dir := t.TempDir()
	first := NewLayeredCache(time.Minute, dir, time.Hour)
	require.NoError(t, first.Set("k", []byte(`"v"`), 0))

	second := NewLayeredCache(time.Minute, dir, time.Hour)
	v, ok := second.Get("k")
	require.True(t, ok)
	assert.Equal(t, `"v"`, string(v))

	v, ok = second.memory.Get("k")
	assert.True(t, ok)
	assert.Equal(t, `"v"`, string(v))

	_, ok = second.Get("missing")
	assert.False(t, ok)
	hits, misses := second.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	require.NoError(t, second.Clear())
	_, ok = second.Get("k")
	assert.False(t, ok)
}

func TestLayeredCache_MemoryOnly(t *testing.T) {
	c := NewLayeredCache(time.Minute, "", 0)
	assert.Nil(t, c.disk)
	require.NoError(t, c.Set("k", []byte(`1`), 0))
	_, ok := c.Get("k")
	assert.True(t, ok)
	require.NoError(t, c.Delete("k"))
}

func TestHitStore(t *testing.T) {
	store := NewHitStore(NewLayeredCache(time.Minute, t.TempDir(), time.Hour), time.Minute)

	_, ok := store.Get("JA1ABC")
	assert.False(t, ok)

	hit := model.Hit{Callsign: "JA1ABC", Country: "Japan", Lat: 35.7, Lon: 139.7, Grid: "PM95", Seq: model.SeqDX}
	require.NoError(t, store.Put("JA1ABC", hit))

	got, ok := store.Get("ja1abc")
	require.True(t, ok)
	assert.Equal(t, "Japan", got.Country)
	assert.Equal(t, 0, got.Seq, "sequence tags belong to a correlation, not the cache")

	require.NoError(t, store.Put("W9XYZ", model.Hit{Callsign: "W9XYZ", Approximate: true}))
	_, ok = store.Get("W9XYZ")
	assert.False(t, ok)
}
