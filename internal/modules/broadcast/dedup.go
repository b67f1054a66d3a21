// README: Bounded set of recently seen event ids.
package broadcast

import "sync"

const defaultDedupSize = 256

// Deduper drops redelivered events when a stream is resumed from the log.
type Deduper struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	size  int
}

func NewDeduper(size int) *Deduper {
	if size <= 0 {
		size = defaultDedupSize
	}
	return &Deduper{seen: make(map[string]struct{}, size), size: size}
}

// Seen records id and reports whether it had been recorded before.
func (d *Deduper) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	if len(d.order) > d.size {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return false
}
