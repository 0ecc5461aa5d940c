package paginate

import (
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// dedupeWindow remembers the hashes of the last N emitted feature ids.
// Only the driver goroutine touches it.
type dedupeWindow struct {
	lru *lru.Cache[uint64, struct{}]
}

func newDedupeWindow(size int) *dedupeWindow {
	if size <= 0 {
		return nil
	}
	c, _ := lru.New[uint64, struct{}](size)
	return &dedupeWindow{lru: c}
}

// seen records id and reports whether it was already in the window.
func (d *dedupeWindow) seen(id string) bool {
	found, _ := d.lru.ContainsOrAdd(xxhash.Sum64String(id), struct{}{})
	return found
}
