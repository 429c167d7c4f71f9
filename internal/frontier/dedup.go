package frontier

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// deduplicator tracks every canonical URL ever admitted in a job. A
// Bloom filter short-circuits the common case (URL definitely not
// seen) without consulting the exact set's map; the exact set
// remains authoritative on every positive, so a false-positive Bloom
// hit costs an extra map lookup, never a correctness violation.
type deduplicator struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	seen   map[string]struct{}
}

func newDeduplicator(expectedItems uint) *deduplicator {
	return &deduplicator{
		filter: bloom.NewWithEstimates(expectedItems, 0.01),
		seen:   make(map[string]struct{}, expectedItems/4),
	}
}

// markIfNew records canonical as seen and reports whether it was new.
func (d *deduplicator) markIfNew(canonical string) bool {
	key := hashCanonical(canonical)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.Test([]byte(key)) {
		if _, ok := d.seen[key]; ok {
			return false
		}
	}
	d.filter.Add([]byte(key))
	d.seen[key] = struct{}{}
	return true
}

func (d *deduplicator) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
