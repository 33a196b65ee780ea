package downloader

import (
	"sync"

	"e6grab/internal"
)

// Preloader holds recently downloaded media bytes in memory so a viewer
// can display them without touching disk again. It is a bounded buffer:
// once the byte budget is exceeded the oldest entries are dropped from
// memory only, never from disk.
type Preloader struct {
	maxBytes int64

	mu    sync.Mutex
	items map[int64][]byte
	order []int64
	total int64
}

// NewPreloader creates a preload buffer with the given budget in bytes.
// A zero or negative budget disables preloading entirely.
func NewPreloader(maxBytes int64) *Preloader {
	return &Preloader{
		maxBytes: maxBytes,
		items:    make(map[int64][]byte),
	}
}

// Add stores media bytes for a post. Oversized items that alone exceed the
// budget are not stored.
func (p *Preloader) Add(postID int64, data []byte) {
	if p.maxBytes <= 0 || int64(len(data)) > p.maxBytes {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.items[postID]; ok {
		p.total -= int64(len(old))
		p.removeFromOrderLocked(postID)
	}
	p.items[postID] = data
	p.order = append(p.order, postID)
	p.total += int64(len(data))

	for p.total > p.maxBytes && len(p.order) > 0 {
		oldest := p.order[0]
		p.order = p.order[1:]
		p.total -= int64(len(p.items[oldest]))
		delete(p.items, oldest)
		internal.LogDebug("preload dropped post %d, %d KB resident", oldest, p.total/1024)
	}
}

// Get returns the preloaded bytes for a post, if still resident.
func (p *Preloader) Get(postID int64) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.items[postID]
	return data, ok
}

// Stats returns the resident item count and byte size.
func (p *Preloader) Stats() (int, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items), p.total
}

func (p *Preloader) removeFromOrderLocked(postID int64) {
	for i, id := range p.order {
		if id == postID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}
