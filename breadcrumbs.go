package xbeacon

import "sync"

// breadcrumbTrail is a fixed-capacity ring buffer. When full, the oldest
// entry is overwritten.
type breadcrumbTrail struct {
	mu    sync.Mutex
	items []Breadcrumb
	start int
	size  int
}

func newBreadcrumbTrail(capacity int) *breadcrumbTrail {
	if capacity < 1 {
		capacity = 1
	}
	return &breadcrumbTrail{items: make([]Breadcrumb, capacity)}
}

func (t *breadcrumbTrail) add(b Breadcrumb) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.size < len(t.items) {
		t.items[(t.start+t.size)%len(t.items)] = b
		t.size++
		return
	}
	t.items[t.start] = b
	t.start = (t.start + 1) % len(t.items)
}

// snapshot returns the entries oldest first. The slice and each Data map are
// copies so events never alias the live trail.
func (t *breadcrumbTrail) snapshot() []Breadcrumb {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.size == 0 {
		return nil
	}
	out := make([]Breadcrumb, t.size)
	for i := 0; i < t.size; i++ {
		b := t.items[(t.start+i)%len(t.items)]
		if b.Data != nil {
			data := make(map[string]any, len(b.Data))
			for k, v := range b.Data {
				data[k] = v
			}
			b.Data = data
		}
		out[i] = b
	}
	return out
}

func (t *breadcrumbTrail) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

func (t *breadcrumbTrail) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.items {
		t.items[i] = Breadcrumb{}
	}
	t.start, t.size = 0, 0
}
