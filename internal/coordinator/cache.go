package coordinator

import (
	"time"
	"unsafe"

	"github.com/coocood/freecache"
)

// Cache maps a source file and mode to the file_id of a delivered result.
type Cache interface {
	Get(key string) (string, bool)
	Set(key, fileID string)
}

type freeCache struct {
	cache *freecache.Cache
	ttl   int
}

// NewCache returns a freecache-backed Cache of sizeMB megabytes, or a
// cache that stores nothing when sizeMB is not positive.
func NewCache(sizeMB int, ttl time.Duration) Cache {
	if sizeMB <= 0 {
		return noopCache{}
	}
	return &freeCache{
		cache: freecache.NewCache(sizeMB * 1024 * 1024),
		ttl:   max(int(ttl.Seconds()), 0),
	}
}

// freecache copies keys, so the unallocated view is never retained.
func unsafeStringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func (c *freeCache) Get(key string) (string, bool) {
	val, err := c.cache.Get(unsafeStringToBytes(key))
	if err != nil {
		return "", false
	}
	return string(val), true
}

func (c *freeCache) Set(key, fileID string) {
	_ = c.cache.Set(unsafeStringToBytes(key), []byte(fileID), c.ttl)
}

type noopCache struct{}

func (noopCache) Get(_ string) (string, bool) { return "", false }
func (noopCache) Set(_, _ string)             {}
