package loader

import (
	"sync"

	"github.com/4castRenewables/maelstrom-train/grid"
)

// sample is one realized training example: a patch with its full lead-time
// sequence.
type sample struct {
	p grid.Array
	t grid.Array
}

// sampleCache keeps realized samples in memory, keyed by file index, to avoid
// recomputation across epochs. Concurrent readers may race to populate the
// same key; the duplicate work is accepted, the store is never corrupted.
type sampleCache struct {
	mu    sync.RWMutex
	files map[int][]sample
}

func newSampleCache() *sampleCache {
	return &sampleCache{files: make(map[int][]sample)}
}

func (c *sampleCache) get(fileIndex int) ([]sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.files[fileIndex]
	return s, ok
}

func (c *sampleCache) put(fileIndex int, samples []sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.files[fileIndex]; !ok {
		c.files[fileIndex] = samples
	}
}
