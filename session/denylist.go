package session

import (
	"math"
	"time"

	"github.com/coocood/freecache"
)

// minDenylistBytes is the smallest cache freecache will allocate.
const minDenylistBytes = 512 * 1024

// Denylist records revoked token IDs until their natural expiry. Entries
// age out on their own, so the list never outgrows the token lifetime.
// freecache locks per segment, so concurrent logouts and verifications on
// different IDs do not contend on a single mutex.
type Denylist struct {
	cache *freecache.Cache
}

// NewDenylist allocates a denylist of roughly sizeMB megabytes.
func NewDenylist(sizeMB int) *Denylist {
	size := sizeMB * 1024 * 1024
	if size < minDenylistBytes {
		size = minDenylistBytes
	}
	return &Denylist{cache: freecache.NewCache(size)}
}

// Add denylists id for ttl. A non-positive ttl means the token has already
// expired and nothing is stored.
func (d *Denylist) Add(id string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	secs := int(math.Ceil(ttl.Seconds()))
	return d.cache.Set([]byte(id), []byte{1}, secs)
}

// Contains reports whether id is currently denylisted.
func (d *Denylist) Contains(id string) bool {
	_, err := d.cache.Get([]byte(id))
	return err == nil
}

// Len returns the number of live entries.
func (d *Denylist) Len() int64 {
	return d.cache.EntryCount()
}
