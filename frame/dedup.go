package frame

import (
	"sync"
	"time"
)

const (
	DefaultDedupSize = 1000
	DefaultDedupTTL  = 5 * time.Minute
)

type dedupEntry struct {
	id   string
	seen time.Time
}

// DedupWindow is a sliding window of recently seen message ids. It remembers at
// most size ids, each for at most ttl.
type DedupWindow struct {
	mu      sync.Mutex
	size    int
	ttl     time.Duration
	now     func() time.Time
	entries []dedupEntry
	index   map[string]struct{}
}

// NewDedupWindow creates a window. Non-positive size or ttl take the defaults.
func NewDedupWindow(size int, ttl time.Duration) *DedupWindow {
	if size <= 0 {
		size = DefaultDedupSize
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &DedupWindow{
		size:    size,
		ttl:     ttl,
		now:     time.Now,
		entries: make([]dedupEntry, 0, size),
		index:   make(map[string]struct{}, size),
	}
}

// IsDuplicate reports whether id is already in the window, recording it if not.
func (d *DedupWindow) IsDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	cutoff := now.Add(-d.ttl)
	start := 0
	for start < len(d.entries) && d.entries[start].seen.Before(cutoff) {
		delete(d.index, d.entries[start].id)
		start++
	}
	if start > 0 {
		d.entries = d.entries[start:]
	}

	if _, ok := d.index[id]; ok {
		return true
	}

	if len(d.entries) >= d.size {
		delete(d.index, d.entries[0].id)
		d.entries = d.entries[1:]
	}
	d.entries = append(d.entries, dedupEntry{id: id, seen: now})
	d.index[id] = struct{}{}
	return false
}

// Reset forgets every id.
func (d *DedupWindow) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = d.entries[:0]
	clear(d.index)
}

// Len returns the number of tracked ids.
func (d *DedupWindow) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
